package cliconfig

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"

	"github.com/NazgoooAtanasov/upy/internal/discovery"
	"github.com/NazgoooAtanasov/upy/internal/domain"
	"github.com/NazgoooAtanasov/upy/pkg/log"
)

const (
	// DefaultConfigFile is looked up in the current directory when --config is not given.
	DefaultConfigFile = "upy.toml"
	// LegacyConfigFile is used when DefaultConfigFile does not exist.
	LegacyConfigFile = "dw.json"

	DefaultOutDir = "./outdir"
)

// Config holds CLI configuration for upy.
type Config struct {
	// WorkDir is searched for cartridges.
	WorkDir string

	Hostname string
	Username string
	Password string
	Version  string
	BaseURL  string

	// Cartridges restricts the run to cartridges whose name contains one
	// of these substrings. Empty means all.
	Cartridges []string
	Exclusions []string

	OutDir   string
	Compress bool

	Upload bool
	Watch  bool

	Concurrency    int
	CoalesceWindow time.Duration
	HTTPTimeout    time.Duration
	ShutdownGrace  time.Duration
	KeepParents    int

	LogLevel string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		WorkDir:        ".",
		Exclusions:     append([]string(nil), discovery.DefaultExclusions...),
		OutDir:         DefaultOutDir,
		CoalesceWindow: 300 * time.Millisecond,
		HTTPTimeout:    60 * time.Second,
		ShutdownGrace:  10 * time.Second,
		LogLevel:       "info",
	}
}

// Validate checks the configuration for errors and sets derived defaults.
// Errors wrap domain.ErrInvalidConfig.
func (c *Config) Validate() error {
	c.Hostname = strings.TrimSuffix(strings.TrimPrefix(c.Hostname, "https://"), "/")
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")

	if c.Hostname == "" && c.BaseURL == "" {
		return invalid("hostname is required")
	}
	if c.Username == "" {
		return invalid("username is required")
	}
	if c.Password == "" {
		return invalid("password is required")
	}
	if c.Version == "" {
		return invalid("code version is required")
	}

	// Neither mode selected means both
	if !c.Upload && !c.Watch {
		c.Upload, c.Watch = true, true
	}

	if c.WorkDir == "" {
		c.WorkDir = "."
	}
	if c.OutDir == "" {
		c.OutDir = DefaultOutDir
	}
	var err error
	if c.WorkDir, err = homedir.Expand(c.WorkDir); err != nil {
		return invalid(fmt.Sprintf("work dir: %v", err))
	}
	// Cartridge names come from the last segment, so "." must be resolved.
	if c.WorkDir, err = filepath.Abs(c.WorkDir); err != nil {
		return invalid(fmt.Sprintf("work dir: %v", err))
	}
	if c.OutDir, err = homedir.Expand(c.OutDir); err != nil {
		return invalid(fmt.Sprintf("out dir: %v", err))
	}

	if c.Concurrency < 0 {
		return invalid("concurrency must not be negative")
	}
	if c.KeepParents < 0 {
		return invalid("keep-parents must not be negative")
	}
	if c.CoalesceWindow < 0 {
		return invalid("coalesce window must not be negative")
	}
	if c.HTTPTimeout < 0 {
		return invalid("timeout must not be negative")
	}
	if c.ShutdownGrace <= 0 {
		return invalid("shutdown grace must be positive")
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return invalid(err.Error())
	}

	return nil
}

// Redacted returns a copy that is safe to log.
func (c Config) Redacted() Config {
	if c.Password != "" {
		c.Password = "*****"
	}
	return c
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidConfig, msg)
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

// newConfigSetter creates a new setter with the given changed flags map.
func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setStrings sets a list if not empty and flag not changed.
func (s *configSetter) setStrings(flag string, value []string, dst *[]string) {
	if len(value) == 0 || s.changed[flag] {
		return
	}
	*dst = append([]string(nil), value...)
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setIntFromString parses a string to int and sets the destination if valid.
// Used for environment variables that come as strings.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}

// setBoolFromString parses a string to bool and sets the destination.
// Accepts "true", "1" as true, anything else as false.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}
