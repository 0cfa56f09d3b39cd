package strategy

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/loykin/watchdogd/internal/service"
)

// PackageScript runs a package-manager command line (npm run dev, pnpm
// start) inside the workspace. With an explicit PackageManager the command
// fields become its arguments; otherwise the line goes through the shell
// only when it needs one.
type PackageScript struct{}

func (PackageScript) Kind() service.Kind { return service.KindPackageScript }

func (p PackageScript) Launch(def service.Definition, opts Options) (*Spawn, error) {
	return launch(p, def, opts)
}

func (PackageScript) Resolve(def service.Definition, _ *slog.Logger) (Invocation, error) {
	if def.Workspace == "" {
		return Invocation{}, resolveErr(def.Name, ErrWorkspaceRequired)
	}
	if err := checkDir(def.Workspace); err != nil {
		return Invocation{}, resolveErr(def.Name, fmt.Errorf("workspace: %w", err))
	}
	line := strings.TrimSpace(def.Command)
	if line == "" {
		return Invocation{}, resolveErr(def.Name, ErrEmptyCommand)
	}

	if def.PackageManager != "" {
		pm, err := lookupProgram(def.PackageManager)
		if err != nil {
			return Invocation{}, resolveErr(def.Name, err)
		}
		args := append(strings.Fields(line), def.Args...)
		return Invocation{Path: pm, Args: args, Dir: def.Workspace}, nil
	}

	path, args := BuildCommandLine(line, def.Args)
	if path != shellPath {
		resolved, err := lookupProgram(path)
		if err != nil {
			return Invocation{}, resolveErr(def.Name, err)
		}
		path = resolved
	}
	return Invocation{Path: path, Args: args, Dir: def.Workspace}, nil
}

// BuildCommandLine splits a command line into program and arguments. It
// avoids a shell unless the line contains shell syntax, and honours an
// explicit "sh -c ..." prefix without wrapping it twice. Extra args are
// quoted onto the script when a shell is used.
func BuildCommandLine(line string, extra []string) (string, []string) {
	line = strings.TrimSpace(line)
	if after, ok := parseExplicitShell(line); ok {
		return shellPath, shellArgs(joinQuoted(after, extra))
	}
	if strings.ContainsAny(line, shellMeta) {
		return shellPath, shellArgs(joinQuoted(line, extra))
	}
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return shellPath, shellArgs(joinQuoted("", extra))
	}
	return parts[0], append(parts[1:], extra...)
}

func joinQuoted(script string, extra []string) string {
	if len(extra) == 0 {
		return script
	}
	q := make([]string, 0, len(extra)+1)
	q = append(q, script)
	for _, a := range extra {
		q = append(q, quoteArg(a))
	}
	return strings.Join(q, " ")
}

// parseExplicitShell detects "sh -c <ARG>" style prefixes and returns the
// script with one pair of surrounding quotes removed.
func parseExplicitShell(line string) (string, bool) {
	for _, p := range []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "} {
		if !strings.HasPrefix(line, p) {
			continue
		}
		after := line[len(p):]
		if n := len(after); n >= 2 {
			if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
				after = after[1 : n-1]
			}
		}
		return after, true
	}
	return "", false
}
