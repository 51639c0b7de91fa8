package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errors.Wrapf(err, "%s: invalid duration %q", path, raw)
	}
	if d < 0 {
		return 0, errors.Newf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// parseSignedDuration is ParseDurationField that lets a negative value
// through, for fields where negative means "off".
func parseSignedDuration(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errors.Wrapf(err, "%s: invalid duration %q", path, raw)
	}
	return d, nil
}
