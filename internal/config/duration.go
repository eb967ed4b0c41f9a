package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a non-negative duration; empty is zero.
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

// Timings are the forwarding durations in parsed form. Zero means "use
// the component default" except for SendJitter and DuplicateWindow, where
// zero disables the feature.
type Timings struct {
	SendInterval     time.Duration
	SendJitter       time.Duration
	RateLimitCeiling time.Duration
	JoinDelay        time.Duration
	DuplicateWindow  time.Duration
	PollTimeout      time.Duration
	BusyTimeout      time.Duration
}

func (c *Config) Timings() (Timings, error) {
	var t Timings
	fields := []struct {
		path string
		raw  string
		dst  *time.Duration
	}{
		{"forwarding.send_interval", c.Forwarding.SendInterval, &t.SendInterval},
		{"forwarding.send_jitter", c.Forwarding.SendJitter, &t.SendJitter},
		{"forwarding.rate_limit_ceiling", c.Forwarding.RateLimitCeiling, &t.RateLimitCeiling},
		{"forwarding.join_delay", c.Forwarding.JoinDelay, &t.JoinDelay},
		{"forwarding.duplicate_window", c.Forwarding.DuplicateWindow, &t.DuplicateWindow},
		{"telegram.poll_timeout", c.Telegram.PollTimeout, &t.PollTimeout},
		{"storage.busy_timeout", c.Storage.BusyTimeout, &t.BusyTimeout},
	}
	for _, f := range fields {
		d, err := ParseDurationField(f.path, f.raw)
		if err != nil {
			return Timings{}, err
		}
		*f.dst = d
	}
	return t, nil
}
