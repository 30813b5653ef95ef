package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// candidateNames are tried in order inside the config directory. The first is
// the default when none exist.
var candidateNames = []string{"config.jsonc", "config.yaml", "config.yml"}

// ResolvePath returns explicit when set. Otherwise it looks in
// $XDG_CONFIG_HOME/livecap (or ~/.config/livecap) for the first existing
// candidate file.
func ResolvePath(explicit string) (string, error) {
	if strings.TrimSpace(explicit) != "" {
		return explicit, nil
	}

	dir, err := configDir()
	if err != nil {
		return "", err
	}
	for _, name := range candidateNames {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return filepath.Join(dir, candidateNames[0]), nil
}

func configDir() (string, error) {
	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		return filepath.Join(xdg, "livecap"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("unable to resolve user home for config fallback")
	}
	return filepath.Join(home, ".config", "livecap"), nil
}
