package strategy

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0o750)
}

// hasSeparator reports whether p names a path rather than a PATH lookup.
func hasSeparator(p string) bool {
	return strings.ContainsAny(p, `/\`)
}

// lookupProgram resolves a bare program name through PATH and checks an
// explicit path exists.
func lookupProgram(p string) (string, error) {
	if !hasSeparator(p) {
		return exec.LookPath(p)
	}
	if _, err := os.Stat(p); err != nil {
		return "", err
	}
	return p, nil
}

// checkRunnable rejects directories and, off Windows, files without any
// execute bit.
func checkRunnable(p string) error {
	fi, err := os.Stat(p)
	if err != nil {
		return err
	}
	if fi.IsDir() {
		return fmt.Errorf("%s: %w", p, ErrIsDirectory)
	}
	if runtime.GOOS != "windows" && fi.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("%s: %w", p, ErrNotExecutable)
	}
	return nil
}

func checkDir(p string) error {
	fi, err := os.Stat(p)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return fmt.Errorf("%s: %w", p, ErrNotDirectory)
	}
	return nil
}
