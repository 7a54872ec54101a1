package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/lucasnoah/fixlog/internal/config"
	"github.com/lucasnoah/fixlog/internal/logging"
)

// overrideKeys are the flag names that can override config file values.
var overrideKeys = map[string]bool{
	config.KeyTarget:         true,
	config.KeyTests:          true,
	config.KeyTargetTimeout:  true,
	config.KeyTestsTimeout:   true,
	config.KeyWorkdir:        true,
	config.KeyLogPath:        true,
	config.KeyLockTimeout:    true,
	config.KeyStatusRule:     true,
	config.KeyTestPrefix:     true,
	config.KeyAutoTestPrefix: true,
	config.KeyDatabaseURL:    true,
	config.KeyMetricsFile:    true,
	config.KeyLogLevel:       true,
	config.KeyLogFormat:      true,
}

// loadConfig reads the config file named by --config, or the first default
// candidate, and applies environment and flag overrides from cmd.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	var (
		cfg  *config.Config
		path string
		err  error
	)
	if configFile != "" {
		cfg, err = config.Load(configFile)
		path = configFile
	} else {
		cfg, path, err = config.LoadDefault()
	}
	if err != nil {
		return nil, path, err
	}

	v := config.NewViper()
	if err := bindFlags(v, cmd.Flags()); err != nil {
		return nil, path, err
	}
	config.Overlay(cfg, v)
	return cfg, path, nil
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	var bindErr error
	fs.VisitAll(func(f *pflag.Flag) {
		if bindErr != nil || !overrideKeys[f.Name] {
			return
		}
		if err := v.BindPFlag(f.Name, f); err != nil {
			bindErr = fmt.Errorf("binding flag --%s: %w", f.Name, err)
		}
	})
	return bindErr
}

// validConfig loads the config and fails with a listing when it is invalid.
func validConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		printValidationErrors(cmd, errs)
		return nil, fmt.Errorf("config has %d validation error(s)", len(errs))
	}
	return cfg, nil
}

func printValidationErrors(cmd *cobra.Command, errs []config.ValidationError) {
	cmd.PrintErrln("Validation errors:")
	for _, e := range errs {
		cmd.PrintErrf("  - %s\n", e)
	}
}

func newLogger(cmd *cobra.Command, cfg *config.Config) (*zap.Logger, error) {
	logger, err := logging.NewWithWriter(cmd.ErrOrStderr(), cfg.LogLevel, logging.Format(cfg.LogFormat))
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}
