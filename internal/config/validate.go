package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"teleads/internal/task/scheduler"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct constraints, then the fields validator tags
// cannot express (durations, schedule syntax).
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := cfg.Timings(); err != nil {
		return err
	}
	if s := strings.TrimSpace(cfg.Forwarding.LoopSchedule); s != "" {
		if _, err := scheduler.ParseSchedule(s); err != nil {
			return fmt.Errorf("forwarding.loop_schedule: %w", err)
		}
	}
	return nil
}
