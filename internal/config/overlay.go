package config

import (
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. FIXLOG_LOG_PATH.
const EnvPrefix = "FIXLOG"

// Override keys. Flags bound to a viper instance use the same names.
const (
	KeyTarget         = "target"
	KeyTests          = "tests"
	KeyTargetTimeout  = "target-timeout"
	KeyTestsTimeout   = "tests-timeout"
	KeyWorkdir        = "workdir"
	KeyLogPath        = "log-path"
	KeyLockTimeout    = "lock-timeout"
	KeyStatusRule     = "status-rule"
	KeyTestPrefix     = "test-prefix"
	KeyAutoTestPrefix = "auto-test-prefix"
	KeyDatabaseURL    = "database-url"
	KeyMetricsFile    = "metrics-file"
	KeyLogLevel       = "log-level"
	KeyLogFormat      = "log-format"
)

// NewViper returns a viper instance reading FIXLOG_* environment variables.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// Overlay applies every key explicitly set in v (changed flag or
// environment variable) on top of cfg.
func Overlay(cfg *Config, v *viper.Viper) {
	if v.IsSet(KeyTarget) {
		cfg.Target.Command = SplitCommand(v.GetString(KeyTarget))
	}
	if v.IsSet(KeyTests) {
		cfg.Tests.Command = SplitCommand(v.GetString(KeyTests))
	}

	strs := map[string]*string{
		KeyTargetTimeout:  &cfg.Target.Timeout,
		KeyTestsTimeout:   &cfg.Tests.Timeout,
		KeyWorkdir:        &cfg.Workdir,
		KeyLogPath:        &cfg.LogPath,
		KeyLockTimeout:    &cfg.LockTimeout,
		KeyStatusRule:     &cfg.StatusRule,
		KeyTestPrefix:     &cfg.TestPrefix,
		KeyAutoTestPrefix: &cfg.AutoTestPrefix,
		KeyDatabaseURL:    &cfg.DatabaseURL,
		KeyMetricsFile:    &cfg.MetricsFile,
		KeyLogLevel:       &cfg.LogLevel,
		KeyLogFormat:      &cfg.LogFormat,
	}
	for key, dst := range strs {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
}
