package workers

import (
	"os"
	"runtime"
	"strconv"
)

// Count returns the worker count for a task type. It respects container CPU
// limits via GOMAXPROCS.
//
// The multiplier adjusts for task characteristics: 1.0 for CPU-bound work
// (image decoding), 2.0 for I/O-bound work. The limit parameter caps the
// count; use 0 for no cap.
//
// CATALOG_WORKERS overrides the computed count.
func Count(multiplier float64, limit int) int {
	if override := os.Getenv("CATALOG_WORKERS"); override != "" {
		if count, err := strconv.Atoi(override); err == nil && count > 0 {
			if limit > 0 && count > limit {
				return limit
			}
			return count
		}
	}

	available := runtime.GOMAXPROCS(0)
	count := int(float64(available) * multiplier)

	if count < 1 {
		count = 1
	}
	if limit > 0 && count > limit {
		count = limit
	}
	return count
}

// ForCPU returns the worker count for CPU-bound tasks (1 per CPU).
func ForCPU(limit int) int {
	return Count(1.0, limit)
}

// ForIO returns the worker count for I/O-bound tasks (2 per CPU).
func ForIO(limit int) int {
	return Count(2.0, limit)
}
