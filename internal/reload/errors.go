package reload

import (
	"errors"
	"fmt"
)

// ErrContainerReplaced is returned when the container was recreated while
// its code was being reloaded.
var ErrContainerReplaced = errors.New("container replaced during reload")

// AddressResolutionError reports that no reachable endpoint exists for a
// project's dev-mode container.
type AddressResolutionError struct {
	ProjectID string
	Reason    string
}

func (e *AddressResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve dev-mode address of %s: %s", e.ProjectID, e.Reason)
}

// Step names one call of the reload protocol.
type Step string

const (
	StepClear   Step = "clear"
	StepUpload  Step = "upload"
	StepTrigger Step = "trigger"
)

// ProtocolError reports a failed or timed out reload call. The reload that
// produced it is aborted and codeLoaded is left untouched.
type ProtocolError struct {
	Step       Step
	URL        string
	File       string
	StatusCode int
	Err        error
}

func (e *ProtocolError) Error() string {
	target := e.URL
	if e.File != "" {
		target = e.File + " to " + e.URL
	}
	if e.Err == nil {
		return fmt.Sprintf("reload %s of %s failed with status %d", e.Step, target, e.StatusCode)
	}
	return fmt.Sprintf("reload %s of %s failed: %v", e.Step, target, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// IsAddressResolution checks whether err is an AddressResolutionError.
func IsAddressResolution(err error) bool {
	var are *AddressResolutionError
	return errors.As(err, &are)
}

// IsProtocolError checks whether err is a ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
