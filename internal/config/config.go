// Package config provides state-root resolution and defaults loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/steveyegge/swarm/internal/constants"
)

// ConfigFileName is the optional defaults file inside the state root.
const ConfigFileName = "config.toml"

// Defaults carries user-tunable default values read from config.toml.
// Zero values mean "use the built-in default"; explicit flags always win.
type Defaults struct {
	Ralph struct {
		MaxIterations            int    `toml:"max_iterations"`
		InactivityTimeoutSeconds int    `toml:"inactivity_timeout_seconds"`
		DonePattern              string `toml:"done_pattern"`
	} `toml:"ralph"`

	Heartbeat struct {
		IntervalSeconds int    `toml:"interval_seconds"`
		Message         string `toml:"message"`
	} `toml:"heartbeat"`

	Mux struct {
		Socket  string `toml:"socket"`
		Session string `toml:"session"`
	} `toml:"mux"`

	Spawn struct {
		ReadyTimeoutSeconds int `toml:"ready_timeout_seconds"`
	} `toml:"spawn"`
}

// StateRoot resolves the swarm state directory.
// Priority: explicit flag value > SWARM_STATE_DIR > ~/.swarm.
func StateRoot(flagValue string) (string, error) {
	if flagValue != "" {
		return filepath.Abs(flagValue)
	}
	if env := os.Getenv("SWARM_STATE_DIR"); env != "" {
		return filepath.Abs(env)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, constants.StateDirName), nil
}

// EnsureStateRoot creates the state root and its standard subdirectories.
func EnsureStateRoot(root string) error {
	for _, dir := range []string{root, filepath.Join(root, "logs"), filepath.Join(root, "ralph"), filepath.Join(root, "heartbeats")} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating state directory: %w", err)
		}
	}
	return nil
}

// LoadDefaults reads config.toml from the state root.
// A missing file is not an error; a malformed file is.
func LoadDefaults(stateRoot string) (*Defaults, error) {
	var d Defaults
	path := filepath.Join(stateRoot, ConfigFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &d, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &d, nil
}
