package strategy

import (
	"fmt"
	"log/slog"

	"github.com/loykin/watchdogd/internal/service"
)

// Executable spawns the command directly. Application bundles are either
// entered (when the launch must be tracked or isolated) or handed to the
// platform opener.
type Executable struct{}

func (Executable) Kind() service.Kind { return service.KindExecutable }

func (e Executable) Launch(def service.Definition, opts Options) (*Spawn, error) {
	return launch(e, def, opts)
}

func (Executable) Resolve(def service.Definition, log *slog.Logger) (Invocation, error) {
	if def.Command == "" {
		return Invocation{}, resolveErr(def.Name, ErrEmptyCommand)
	}
	if log == nil {
		log = slog.Default()
	}
	args := append([]string(nil), def.Args...)
	profileDir := ""
	if def.UseUniqueProfile {
		dir, prefix, err := profileArgs(def, args)
		switch {
		case err != nil:
			log.Warn("profile isolation disabled", "error", err)
		default:
			profileDir = dir
			if prefix != "" {
				args = append([]string{prefix}, args...)
			}
		}
	}

	if isAppBundle(def.Command) {
		if err := checkDir(def.Command); err != nil {
			return Invocation{}, resolveErr(def.Name, fmt.Errorf("invalid bundle: %w", err))
		}
		if def.TrackChildProcesses || profileDir != "" {
			exe, err := BundleExecutable(def.Command)
			if err == nil {
				return Invocation{Path: exe, Args: args, Dir: def.Workspace, ProfileDir: profileDir}, nil
			}
			log.Warn("bundle entry not found, using opener", "bundle", def.Command, "error", err)
		}
		return Invocation{Path: openerPath, Args: openArgs(def.Command, args), Dir: def.Workspace, ProfileDir: profileDir}, nil
	}

	path, err := lookupProgram(def.Command)
	if err != nil {
		return Invocation{}, resolveErr(def.Name, err)
	}
	if err := checkRunnable(path); err != nil {
		return Invocation{}, resolveErr(def.Name, err)
	}
	if def.Workspace != "" {
		if err := checkDir(def.Workspace); err != nil {
			return Invocation{}, resolveErr(def.Name, fmt.Errorf("workspace: %w", err))
		}
	}
	return Invocation{Path: path, Args: args, Dir: def.Workspace, ProfileDir: profileDir}, nil
}
