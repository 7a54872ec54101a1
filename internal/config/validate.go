package config

import (
	"fmt"
	"time"

	"github.com/lucasnoah/fixlog/internal/logging"
	"github.com/lucasnoah/fixlog/internal/parser"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks a Config for errors. It returns all issues found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError

	if len(cfg.Target.Command) == 0 {
		errs = append(errs, ValidationError{Field: "target.command", Message: "is required"})
	}
	if len(cfg.Tests.Command) == 0 {
		errs = append(errs, ValidationError{Field: "tests.command", Message: "is required"})
	}
	if cfg.LogPath == "" {
		errs = append(errs, ValidationError{Field: "log_path", Message: "is required"})
	}

	durations := map[string]string{
		"target.timeout": cfg.Target.Timeout,
		"tests.timeout":  cfg.Tests.Timeout,
		"lock_timeout":   cfg.LockTimeout,
	}
	for _, field := range []string{"target.timeout", "tests.timeout", "lock_timeout"} {
		v := durations[field]
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("invalid duration %q", v)})
			continue
		}
		if d <= 0 {
			errs = append(errs, ValidationError{Field: field, Message: "must be positive"})
		}
	}

	if _, err := parser.ParseStatusRule(cfg.StatusRule); err != nil {
		errs = append(errs, ValidationError{Field: "status_rule", Message: err.Error()})
	}
	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		errs = append(errs, ValidationError{Field: "log_level", Message: err.Error()})
	}
	switch logging.Format(cfg.LogFormat) {
	case logging.FormatConsole, logging.FormatJSON, "":
	default:
		errs = append(errs, ValidationError{
			Field:   "log_format",
			Message: fmt.Sprintf("unknown format %q (want %q or %q)", cfg.LogFormat, logging.FormatConsole, logging.FormatJSON),
		})
	}

	return errs
}
