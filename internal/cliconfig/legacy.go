package cliconfig

import (
	"encoding/json"
	"fmt"
	"os"
)

// legacyConfig is the dw.json layout shared with other cartridge upload tools.
type legacyConfig struct {
	Hostname   string          `json:"hostname"`
	Username   string          `json:"username"`
	Password   string          `json:"password"`
	Version    string          `json:"version"`
	Cartridges json.RawMessage `json:"cartridge"`
}

// loadLegacyConfig reads a dw.json. "cartridge" may be a list of names or a
// single colon-separated string.
func loadLegacyConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}

	var lc legacyConfig
	if err := json.Unmarshal(b, &lc); err != nil {
		return fc, fmt.Errorf("parse %s: %w", path, err)
	}

	cartridges, err := parseCartridgeList(lc.Cartridges)
	if err != nil {
		return fc, fmt.Errorf("parse %s: cartridge: %w", path, err)
	}

	return FileConfig{
		Hostname:   lc.Hostname,
		Username:   lc.Username,
		Password:   lc.Password,
		Version:    lc.Version,
		Cartridges: cartridges,
	}, nil
}

func parseCartridgeList(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}

	var joined string
	if err := json.Unmarshal(raw, &joined); err != nil {
		return nil, fmt.Errorf("want a list or a string")
	}
	return splitList(joined, ":"), nil
}
