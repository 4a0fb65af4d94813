package paths

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.ralph, the data directory for the client.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".ralph")
}

// DBPath returns the path of the message database.
func DBPath(base string) string {
	return filepath.Join(base, "ralph.db")
}

// LogDir returns the log directory.
func LogDir(base string) string {
	return filepath.Join(base, "logs")
}

// LogPath returns the client log file path.
func LogPath(base string) string {
	return filepath.Join(LogDir(base), "ralph.log")
}

// ConfigPath returns the config file path.
func ConfigPath(base string) string {
	return filepath.Join(base, "config.toml")
}

// EnsureDirs creates the data directory tree with owner-only permissions.
func EnsureDirs(base string) error {
	for _, d := range []string{base, LogDir(base)} {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
