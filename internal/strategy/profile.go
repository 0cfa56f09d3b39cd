package strategy

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/loykin/watchdogd/internal/service"
)

// ProfileFlag is the browser-style flag used for per-service profiles.
const ProfileFlag = "--user-data-dir"

var unsafeProfileChars = regexp.MustCompile(`[^a-z0-9._-]+`)

// DefaultProfileBase is where isolated profiles live when the definition
// does not name a base directory.
func DefaultProfileBase() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".watchdogd", "profiles")
}

// ProfileName derives a filesystem-safe directory name for def.
func ProfileName(def service.Definition) string {
	name := def.Name
	if name == "" {
		name = service.NameStem(def.Command)
	}
	safe := unsafeProfileChars.ReplaceAllString(strings.ToLower(name), "-")
	safe = strings.Trim(safe, "-_.")
	if safe == "" {
		return "service"
	}
	return safe
}

// ProfileDir returns the absolute profile directory for def.
func ProfileDir(def service.Definition) (string, error) {
	base := def.ProfileBaseDir
	if base == "" {
		base = DefaultProfileBase()
	}
	if strings.HasPrefix(base, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			base = filepath.Join(home, strings.TrimPrefix(base, "~"))
		}
	}
	return filepath.Abs(filepath.Join(base, ProfileName(def)))
}

// ProfileArg formats the profile flag for dir.
func ProfileArg(dir string) string { return ProfileFlag + "=" + dir }

// profileArgs creates the profile directory and returns the flag to prepend.
// An explicit flag already in args wins and yields an empty prefix.
func profileArgs(def service.Definition, args []string) (string, string, error) {
	for _, a := range args {
		if strings.HasPrefix(a, ProfileFlag) {
			_, dir, _ := strings.Cut(a, "=")
			return dir, "", nil
		}
	}
	dir, err := ProfileDir(def)
	if err != nil {
		return "", "", err
	}
	if err := ensureDir(dir); err != nil {
		return "", "", err
	}
	return dir, ProfileArg(dir), nil
}
