package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lucasnoah/fixlog/internal/fixlog"
)

// Config is the top-level configuration parsed from fixlog YAML.
type Config struct {
	Target         Command           `yaml:"target"`
	Tests          Command           `yaml:"tests"`
	Workdir        string            `yaml:"workdir,omitempty"`
	Env            map[string]string `yaml:"env,omitempty"`
	LogPath        string            `yaml:"log_path"`
	LockTimeout    string            `yaml:"lock_timeout,omitempty"`
	StatusRule     string            `yaml:"status_rule"`
	TestPrefix     string            `yaml:"test_prefix"`
	AutoTestPrefix string            `yaml:"auto_test_prefix"`
	DatabaseURL    string            `yaml:"database_url,omitempty"`
	MetricsFile    string            `yaml:"metrics_file,omitempty"`
	LogLevel       string            `yaml:"log_level"`
	LogFormat      string            `yaml:"log_format"`
}

// Command is one subprocess to run.
type Command struct {
	Command Argv   `yaml:"command"`
	Timeout string `yaml:"timeout,omitempty"`
}

// TimeoutDuration parses Timeout, returning def when it is empty or invalid.
func (c Command) TimeoutDuration(def time.Duration) time.Duration {
	return parseDuration(c.Timeout, def)
}

// Argv is a program and its arguments. In YAML it may be written as a list
// or as a single whitespace-separated string.
type Argv []string

func (a *Argv) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*a = SplitCommand(node.Value)
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*a = list
		return nil
	}
	return fmt.Errorf("line %d: command must be a string or a list of strings", node.Line)
}

// String joins the arguments with spaces.
func (a Argv) String() string {
	return strings.Join(a, " ")
}

// SplitCommand splits a command line on whitespace. Quoting is not
// interpreted; use the YAML list form for arguments containing spaces.
func SplitCommand(s string) Argv {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil
	}
	return Argv(fields)
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// LockTimeoutDuration parses LockTimeout, returning fixlog.DefaultLockTimeout
// when it is empty or invalid.
func (c *Config) LockTimeoutDuration() time.Duration {
	return parseDuration(c.LockTimeout, fixlog.DefaultLockTimeout)
}
