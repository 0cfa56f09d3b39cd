package strategy

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/loykin/watchdogd/internal/service"
)

// InterpreterScript runs <interpreter> [flags] <script> <args>. The working
// directory defaults to the script's directory.
type InterpreterScript struct{}

func (InterpreterScript) Kind() service.Kind { return service.KindInterpreterScript }

func (s InterpreterScript) Launch(def service.Definition, opts Options) (*Spawn, error) {
	return launch(s, def, opts)
}

func (InterpreterScript) Resolve(def service.Definition, _ *slog.Logger) (Invocation, error) {
	script := def.Command
	if script == "" {
		return Invocation{}, resolveErr(def.Name, ErrEmptyCommand)
	}
	fi, err := os.Stat(script)
	if err != nil {
		return Invocation{}, resolveErr(def.Name, err)
	}
	if fi.IsDir() {
		return Invocation{}, resolveErr(def.Name, fmt.Errorf("%s: %w", script, ErrIsDirectory))
	}
	abs, err := filepath.Abs(script)
	if err == nil {
		script = abs
	}

	name := def.Interpreter
	if name == "" {
		name = service.DefaultInterpreter()
	}
	interp, err := lookupProgram(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || !hasSeparator(name) {
			err = fmt.Errorf("%s: %w", name, ErrInterpreterNotFound)
		}
		return Invocation{}, resolveErr(def.Name, err)
	}

	dir := def.Workspace
	if dir == "" {
		dir = filepath.Dir(script)
	}
	args := append(interpreterFlags(name), script)
	args = append(args, def.Args...)
	return Invocation{Path: interp, Args: args, Dir: dir}, nil
}

func interpreterFlags(interp string) []string {
	switch service.NameStem(interp) {
	case "powershell", "pwsh":
		return []string{"-NoProfile", "-ExecutionPolicy", "Bypass", "-File"}
	default:
		return nil
	}
}
