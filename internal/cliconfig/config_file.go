package cliconfig

import (
	"os"
	"path/filepath"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	Hostname       string   `toml:"hostname"`
	Username       string   `toml:"username"`
	Password       string   `toml:"password"`
	Version        string   `toml:"version"`
	Cartridges     []string `toml:"cartridge"`
	OutDir         string   `toml:"out_dir"`
	Exclusions     []string `toml:"exclude"`
	Compress       *bool    `toml:"compress"`
	Concurrency    int      `toml:"concurrency"`
	CoalesceWindow string   `toml:"coalesce_window"`
	HTTPTimeout    string   `toml:"http_timeout"`
	ShutdownGrace  string   `toml:"shutdown_grace"`
	KeepParents    int      `toml:"keep_parents"`
	LogLevel       string   `toml:"log_level"`
	BaseURL        string   `toml:"base_url"`
}

// LoadFileConfig reads a config file. Paths ending in .json are read as a
// legacy dw.json; anything else is parsed as TOML.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	path, err := homedir.Expand(path)
	if err != nil {
		return fc, err
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return loadLegacyConfig(path)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns the config file to read when none is given:
// upy.toml in the current directory, else dw.json, else "".
func DefaultConfigPath() string {
	for _, p := range []string{DefaultConfigFile, LegacyConfigFile} {
		if FileExists(p) {
			return p
		}
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("hostname", fc.Hostname, &cfg.Hostname)
	s.setString("username", fc.Username, &cfg.Username)
	s.setString("password", fc.Password, &cfg.Password)
	s.setString("code-version", fc.Version, &cfg.Version)
	s.setString("out-dir", fc.OutDir, &cfg.OutDir)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("base-url", fc.BaseURL, &cfg.BaseURL)

	s.setStrings("cartridge", fc.Cartridges, &cfg.Cartridges)
	s.setStrings("exclude", fc.Exclusions, &cfg.Exclusions)

	if err := s.setDuration("coalesce-window", fc.CoalesceWindow, &cfg.CoalesceWindow); err != nil {
		return err
	}
	if err := s.setDuration("timeout", fc.HTTPTimeout, &cfg.HTTPTimeout); err != nil {
		return err
	}
	if err := s.setDuration("shutdown-grace", fc.ShutdownGrace, &cfg.ShutdownGrace); err != nil {
		return err
	}

	s.setInt("concurrency", fc.Concurrency, &cfg.Concurrency)
	s.setInt("keep-parents", fc.KeepParents, &cfg.KeepParents)

	s.setBool("compress", fc.Compress, &cfg.Compress)

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
