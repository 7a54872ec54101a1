package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/lucasnoah/fixlog/internal/fixlog"
	"github.com/lucasnoah/fixlog/internal/logging"
	"github.com/lucasnoah/fixlog/internal/parser"
)

// DefaultFileName is the config file searched for in the working directory.
const DefaultFileName = "fixlog.yaml"

// DefaultConfig returns the configuration used when no file is present:
// run malo.py and its pytest suite, logging to fix_log.json.
func DefaultConfig() *Config {
	return &Config{
		Target:         Command{Command: Argv{"python3", "malo.py"}, Timeout: "5m"},
		Tests:          Command{Command: Argv{"python3", "-m", "pytest", "test_malo.py"}, Timeout: "10m"},
		LogPath:        fixlog.DefaultPath,
		LockTimeout:    fixlog.DefaultLockTimeout.String(),
		StatusRule:     string(parser.StatusRuleLastLine),
		TestPrefix:     parser.DefaultTestPrefix,
		AutoTestPrefix: parser.DefaultAutoTestPrefix,
		LogLevel:       logging.LevelInfo,
		LogFormat:      string(logging.FormatConsole),
	}
}

// Load reads and parses a configuration file. Fields the file leaves unset
// keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	return cfg, nil
}

// Candidates returns the default search order: ./fixlog.yaml, ~/.fixlog/config.yaml.
func Candidates() []string {
	candidates := []string{DefaultFileName}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".fixlog", "config.yaml"))
	}
	return candidates
}

// LoadDefault loads the first config file found in the search order. When
// none exists it returns DefaultConfig and an empty path.
func LoadDefault() (*Config, string, error) {
	for _, path := range Candidates() {
		if _, err := os.Stat(path); err == nil {
			cfg, err := Load(path)
			return cfg, path, err
		}
	}
	return DefaultConfig(), "", nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}
