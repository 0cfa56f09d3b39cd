// Package strategy turns a service definition into a running OS process.
// Each service kind has one stateless Strategy; all of them share the spawn
// path in launch so environment, output and process-group handling agree.
package strategy

import (
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"time"

	"github.com/loykin/watchdogd/internal/env"
	"github.com/loykin/watchdogd/internal/logger"
	"github.com/loykin/watchdogd/internal/service"
)

// Invocation is a fully resolved spawn request.
type Invocation struct {
	Path       string
	Args       []string
	Dir        string
	ProfileDir string
}

// Argv returns the complete argument vector including the program path.
func (i Invocation) Argv() []string {
	return append([]string{i.Path}, i.Args...)
}

// Options carries the collaborators a launch needs.
type Options struct {
	// Env is the base environment; nil inherits the supervisor's environment.
	Env *env.Env
	// Output holds rotation settings for child stdout/stderr. Its Dir is
	// replaced by the definition's LogDir; no LogDir means the null device.
	Output logger.FileConfig
	Logger *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// Spawn is the result of a successful launch.
type Spawn struct {
	PID        int
	StartedAt  time.Time
	Cmd        *exec.Cmd
	ProfileDir string
	// Wait blocks until the primary exits and reaps it.
	Wait func() error

	outs outputs
}

// Close waits until captured output is fully written and closes the log
// files. It blocks while any descendant still holds the child's stdout or
// stderr, so call it off the supervision path once the primary was reaped.
func (s *Spawn) Close() error {
	outs := s.outs
	s.outs = nil
	return outs.wait()
}

// Strategy launches one kind of service.
type Strategy interface {
	Kind() service.Kind
	// Resolve validates the definition against the filesystem and builds the
	// invocation without spawning anything.
	Resolve(def service.Definition, log *slog.Logger) (Invocation, error)
	Launch(def service.Definition, opts Options) (*Spawn, error)
}

var registry = map[service.Kind]Strategy{
	service.KindExecutable:        Executable{},
	service.KindPackageScript:     PackageScript{},
	service.KindInterpreterScript: InterpreterScript{},
}

// For returns the strategy registered for kind.
func For(kind service.Kind) (Strategy, error) {
	if kind == "" {
		kind = service.KindExecutable
	}
	s, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("no launch strategy for kind %q", kind)
	}
	return s, nil
}

// Launch dispatches def to the strategy for its kind.
func Launch(def service.Definition, opts Options) (*Spawn, error) {
	s, err := For(def.Kind)
	if err != nil {
		return nil, &LaunchError{Service: def.Name, Op: "dispatch", Err: err}
	}
	return s.Launch(def, opts)
}

func launch(s Strategy, def service.Definition, opts Options) (*Spawn, error) {
	log := opts.logger().With("service", def.Name, "kind", s.Kind())
	inv, err := s.Resolve(def, log)
	if err != nil {
		return nil, err
	}
	// #nosec G204 -- commands come from the operator's own configuration
	cmd := exec.Command(inv.Path, inv.Args...)
	cmd.Dir = inv.Dir
	base := opts.Env
	if base == nil {
		base = env.New()
	}
	cmd.Env = base.Merge(def.Environment)
	configureSysProcAttr(cmd)

	sp := &Spawn{ProfileDir: inv.ProfileDir}
	if def.LogDir != "" {
		out := opts.Output
		out.Dir = def.LogDir
		out.StdoutPath, out.StderrPath = "", ""
		if err := ensureDir(def.LogDir); err != nil {
			log.Warn("log dir unavailable, discarding output", "dir", def.LogDir, "error", err)
		} else {
			ow, ew := out.Writers(def.Name)
			if err := attachOutput(cmd, &sp.outs, ow, ew); err != nil {
				sp.outs.abort()
				return nil, &LaunchError{Service: def.Name, Op: "output", Err: err}
			}
		}
	}

	if err := cmd.Start(); err != nil {
		sp.outs.abort()
		return nil, &LaunchError{Service: def.Name, Op: "spawn", Err: err}
	}
	sp.outs.start()
	sp.PID = cmd.Process.Pid
	sp.StartedAt = time.Now()
	sp.Cmd = cmd
	sp.Wait = cmd.Wait
	log.Debug("spawned", "pid", sp.PID, "argv", inv.Argv(), "dir", inv.Dir)
	return sp, nil
}

// attachOutput hands the child pipe files instead of io.Writers, so that
// exec.Cmd.Wait returns as soon as the primary is reaped even when a
// detached descendant keeps the streams open.
func attachOutput(cmd *exec.Cmd, outs *outputs, stdout, stderr io.WriteCloser) error {
	f, err := outs.attach(stdout)
	if err != nil {
		if stderr != nil {
			_ = stderr.Close()
		}
		return err
	}
	if f != nil {
		cmd.Stdout = f
	}
	f, err = outs.attach(stderr)
	if err != nil {
		return err
	}
	if f != nil {
		cmd.Stderr = f
	}
	return nil
}
