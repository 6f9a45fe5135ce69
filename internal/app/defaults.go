package app

import (
	"fmt"
	"os"
	"path/filepath"

	"souviens/internal/config"
)

// Environment variables that relocate the config file and the data directory.
const (
	EnvConfigPath = "SOUVIENS_CONFIG_PATH"
	EnvHome       = "SOUVIENS_HOME"
)

// Defaults are the paths used when nothing else is configured.
type Defaults struct {
	ConfigPath string
	BaseDir    string
	LogDir     string
}

// GetDefaults returns application default paths, checking environment variables first.
//   - SOUVIENS_CONFIG_PATH: config file location (default: ~/.config/souviens.toml)
//   - SOUVIENS_HOME: base directory for logs, keys and history (default: ~/.local/share/souviens)
func GetDefaults(getenv func(string) string) (Defaults, error) {
	configPath := getenv(EnvConfigPath)
	baseDir := getenv(EnvHome)

	if configPath == "" || baseDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return Defaults{}, fmt.Errorf("cannot determine home directory: %w", err)
		}
		if configPath == "" {
			configPath = filepath.Join(homeDir, ".config", "souviens.toml")
		}
		if baseDir == "" {
			baseDir = filepath.Join(homeDir, ".local", "share", "souviens")
		}
	}

	return Defaults{
		ConfigPath: configPath,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
	}, nil
}

// LoadConfig reads the config file named by the defaults, then overlays the
// gateway credentials from the environment. A missing file yields the
// built-in defaults.
func LoadConfig(getenv func(string) string) (*config.Config, Defaults, error) {
	d, err := GetDefaults(getenv)
	if err != nil {
		return nil, Defaults{}, err
	}

	cfg, err := config.Load(d.ConfigPath, d.BaseDir)
	if err != nil {
		return nil, d, err
	}
	config.ApplyEnv(cfg, getenv)
	return cfg, d, nil
}
