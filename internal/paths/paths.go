// Package paths resolves the on-disk layout under ~/.charla.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

// DefaultProfile is used when no --profile flag is given.
const DefaultProfile = "default"

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateProfile checks that name conforms to profile naming rules.
func ValidateProfile(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid profile name %q: must match ^[a-z0-9_-]{1,64}$", name)
	}
	return nil
}

// BaseDir returns ~/.charla.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".charla")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// ProfileDir returns the profile-specific directory.
func ProfileDir(name string) string {
	return filepath.Join(BaseDir(), "profiles", name)
}

// CachePath returns the offline cache database path for a profile.
func CachePath(name string) string {
	return filepath.Join(ProfileDir(name), "cache.db")
}

// TokenPath returns the bearer token file path for a profile.
func TokenPath(name string) string {
	return filepath.Join(ProfileDir(name), "token")
}

// LogPath returns the engine log file path for a profile.
func LogPath(name string) string {
	return filepath.Join(ProfileDir(name), "logs", "charlad.log")
}

// EnsureProfileDir creates the profile directory tree.
func EnsureProfileDir(name string) error {
	return os.MkdirAll(filepath.Join(ProfileDir(name), "logs"), 0700)
}
