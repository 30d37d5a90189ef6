package containerizer

import (
	"fmt"

	"github.com/docker/go-units"
)

// Usage is a single resource usage sample.
type Usage struct {
	MemoryUsage uint64
	MemoryLimit uint64

	// CPUPercent is set by engines that report relative usage.
	CPUPercent float64

	// CPUMillicores is set by orchestrators that report absolute usage.
	CPUMillicores int64
}

// MemoryInfo renders memory usage as "used / limit" in binary units.
func (u Usage) MemoryInfo() string {
	used := units.BytesSize(float64(u.MemoryUsage))
	if u.MemoryLimit == 0 {
		return used
	}
	return used + " / " + units.BytesSize(float64(u.MemoryLimit))
}

// CPUInfo renders CPU usage either in millicores or as a percentage.
func (u Usage) CPUInfo() string {
	if u.CPUMillicores > 0 {
		return fmt.Sprintf("%dm", u.CPUMillicores)
	}
	return fmt.Sprintf("%.2f%%", u.CPUPercent)
}
