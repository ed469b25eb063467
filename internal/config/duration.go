package config

import (
	"fmt"
	"strings"
	"time"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseMillisOrDefault parses a duration field and rounds it to whole
// milliseconds. Values that round to zero fall back to def.
func ParseMillisOrDefault(path, raw string, def int64) (int64, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	ms := d.Round(time.Millisecond).Milliseconds()
	if ms <= 0 {
		return def, nil
	}
	return ms, nil
}
