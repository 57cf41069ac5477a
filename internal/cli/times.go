package cli

import (
	"fmt"
	"time"
)

// parseTime accepts RFC3339 or a bare local date.
func parseTime(flag, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", value, time.Local)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s value %q: want RFC3339 or YYYY-MM-DD", flag, value)
	}
	return &t, nil
}
