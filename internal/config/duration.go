package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a duration-valued config field. Empty or
// whitespace-only fields mean "unset" and map to zero so the caller can
// fall back to its default; negative durations are rejected outright
// because no slot timing knob accepts one.
func ParseDurationField(field, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("config: %s: negative duration %q", field, raw)
	}
	return d, nil
}
