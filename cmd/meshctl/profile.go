// ABOUTME: Operator profile for meshctl, loaded from a TOML file.
// ABOUTME: Locates the identity keyfile and the local registry store.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Profile holds the operator-side settings meshctl needs.
type Profile struct {
	Keyfile   string `toml:"keyfile"`
	StorePath string `toml:"store_path"`
}

// profilePath returns the meshctl profile location.
// Priority: MESHCTL_PROFILE env var > XDG_CONFIG_HOME/toolmesh/meshctl.toml > ~/.config/toolmesh/meshctl.toml
func profilePath() string {
	if envPath := os.Getenv("MESHCTL_PROFILE"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "meshctl.toml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "toolmesh", "meshctl.toml")
}

// defaultDataPath returns the default toolmesh data directory.
func defaultDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "toolmesh")
}

// loadProfile reads the profile file, filling defaults for missing fields.
// A missing file is not an error: everything has a default.
func loadProfile() (*Profile, error) {
	profile := &Profile{
		Keyfile:   filepath.Join(defaultDataPath(), "mesh.key"),
		StorePath: filepath.Join(defaultDataPath(), "mesh.db"),
	}

	path := profilePath()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return profile, nil
	}

	if _, err := toml.DecodeFile(path, profile); err != nil {
		return nil, fmt.Errorf("parsing profile %s: %w", path, err)
	}
	return profile, nil
}
