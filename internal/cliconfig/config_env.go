package cliconfig

import (
	"os"
	"strings"
)

// ApplyEnvConfig applies configuration from environment variables (UPY_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("hostname", os.Getenv("UPY_HOSTNAME"), &cfg.Hostname)
	s.setString("username", os.Getenv("UPY_USERNAME"), &cfg.Username)
	s.setString("password", os.Getenv("UPY_PASSWORD"), &cfg.Password)
	s.setString("code-version", os.Getenv("UPY_VERSION"), &cfg.Version)
	s.setString("out-dir", os.Getenv("UPY_OUT_DIR"), &cfg.OutDir)
	s.setString("log-level", os.Getenv("UPY_LOG_LEVEL"), &cfg.LogLevel)
	s.setString("base-url", os.Getenv("UPY_BASE_URL"), &cfg.BaseURL)

	s.setStrings("cartridge", splitList(os.Getenv("UPY_CARTRIDGES"), ","), &cfg.Cartridges)

	if err := s.setDuration("coalesce-window", os.Getenv("UPY_COALESCE_WINDOW"), &cfg.CoalesceWindow); err != nil {
		return err
	}
	if err := s.setDuration("timeout", os.Getenv("UPY_HTTP_TIMEOUT"), &cfg.HTTPTimeout); err != nil {
		return err
	}
	if err := s.setDuration("shutdown-grace", os.Getenv("UPY_SHUTDOWN_GRACE"), &cfg.ShutdownGrace); err != nil {
		return err
	}

	if err := s.setIntFromString("concurrency", os.Getenv("UPY_CONCURRENCY"), &cfg.Concurrency); err != nil {
		return err
	}

	s.setBoolFromString("compress", os.Getenv("UPY_COMPRESS"), &cfg.Compress)

	return nil
}

// splitList splits s on sep, trimming blanks and dropping empty items.
func splitList(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
