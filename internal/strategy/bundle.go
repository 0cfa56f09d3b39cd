package strategy

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"howett.net/plist"
)

const openerPath = "/usr/bin/open"

// bundlesSupported is true where .app directories are launchable packages.
var bundlesSupported = runtime.GOOS == "darwin"

func isAppBundle(p string) bool {
	if !bundlesSupported {
		return false
	}
	return strings.HasSuffix(strings.ToLower(strings.TrimRight(p, "/")), ".app")
}

func openArgs(bundle string, args []string) []string {
	out := []string{"-a", bundle}
	if len(args) > 0 {
		out = append(out, "--args")
		out = append(out, args...)
	}
	return out
}

type bundleInfo struct {
	Executable string `plist:"CFBundleExecutable"`
}

// BundleExecutable finds the entry executable of an application bundle:
// Contents/MacOS/<CFBundleExecutable> from Info.plist, else the first
// executable file in Contents/MacOS.
func BundleExecutable(bundle string) (string, error) {
	macos := filepath.Join(bundle, "Contents", "MacOS")
	if f, err := os.Open(filepath.Join(bundle, "Contents", "Info.plist")); err == nil {
		var info bundleInfo
		derr := plist.NewDecoder(f).Decode(&info)
		_ = f.Close()
		if derr == nil && info.Executable != "" {
			p := filepath.Join(macos, info.Executable)
			if _, err := os.Stat(p); err == nil {
				return p, nil
			}
		}
	}
	entries, err := os.ReadDir(macos)
	if err != nil {
		return "", fmt.Errorf("%s: %w", bundle, ErrBundleExecutable)
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		if fi.Mode().Perm()&0o111 != 0 {
			return filepath.Join(macos, e.Name()), nil
		}
	}
	return "", fmt.Errorf("%s: %w", bundle, ErrBundleExecutable)
}
