package partition

import (
	"fmt"
)

// ConfigError is returned when an option is invalid. It is always reported before any block is
// processed.
type ConfigError struct {
	Field  string
	Reason string
}

// NewConfigError returns a ConfigError for field with a formatted reason.
func NewConfigError(field, format string, args ...interface{}) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// DegenerateGeometryError is returned when the cameras or points cannot produce a usable scene
// box, e.g. every camera looks along the same direction.
type DegenerateGeometryError struct {
	Reason string
	Err    error
}

func (e *DegenerateGeometryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("degenerate scene geometry: %s: %v", e.Reason, e.Err)
	}
	return "degenerate scene geometry: " + e.Reason
}

// Unwrap returns the underlying error, if any.
func (e *DegenerateGeometryError) Unwrap() error {
	return e.Err
}

// PartitionError is returned when a block's boundary cannot grow to hold enough points.
type PartitionError struct {
	Block      int
	Count      int
	Threshold  int
	Expansions int
	Reason     string
}

func (e *PartitionError) Error() string {
	return fmt.Sprintf("block %d holds %d of %d required points after %d expansions: %s",
		e.Block, e.Count, e.Threshold, e.Expansions, e.Reason)
}
