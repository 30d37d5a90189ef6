package status

import (
	"errors"
	"time"
)

// DefaultTransitWindow is how long a freshly requested container may stay
// invisible to the runtime before its record is considered stale.
const DefaultTransitWindow = 10 * time.Second

// ErrTransitTimeout marks a record that stayed in transit past the window.
var ErrTransitTimeout = errors.New("container stayed in transit past the grace window")

// CheckTransit reports whether rec is still inside the transit grace window.
// Any missing field or unparsable timestamp yields false.
func CheckTransit(rec ContainerStatus, now time.Time, window time.Duration) bool {
	if rec.ContainerID != "" || !rec.InTransit || rec.TransitStart == "" {
		return false
	}
	start, err := time.Parse(time.RFC3339Nano, rec.TransitStart)
	if err != nil {
		return false
	}
	return now.Sub(start) < window
}

// TransitExpired reports whether rec claims to be in transit but the grace
// window has elapsed.
func TransitExpired(rec ContainerStatus, now time.Time, window time.Duration) bool {
	return rec.InTransit && rec.ContainerID == "" && !CheckTransit(rec, now, window)
}
