package service

import (
	"path/filepath"
	"strings"
	"time"
)

// Kind selects the launch strategy for a service.
type Kind string

const (
	KindExecutable        Kind = "executable"
	KindPackageScript     Kind = "package_script"
	KindInterpreterScript Kind = "interpreter_script"
)

// Default values applied by WithDefaults.
const (
	DefaultSnapshotCaptureDuration = 2 * time.Second
	DefaultStopTimeout             = 5 * time.Second
)

// Kinds lists every supported kind in display order.
func Kinds() []Kind {
	return []Kind{KindExecutable, KindPackageScript, KindInterpreterScript}
}

func (k Kind) Valid() bool {
	switch k {
	case KindExecutable, KindPackageScript, KindInterpreterScript:
		return true
	default:
		return false
	}
}

// Definition describes one supervised service. It is treated as immutable
// once handed to the supervisor; identity is Name.
type Definition struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
	// Command is a path or a command line, interpreted per Kind.
	Command     string            `json:"command"`
	Args        []string          `json:"args,omitempty"`
	Workspace   string            `json:"workspace,omitempty"`
	Environment map[string]string `json:"environment,omitempty"`

	Enabled     bool `json:"enabled"`
	AutoRestart bool `json:"auto_restart"`

	// StartupDelay is waited before the first spawn attempt.
	StartupDelay time.Duration `json:"startup_delay"`
	// MinUptimeForCrash is the grace window in which a zero-code exit is normal.
	MinUptimeForCrash time.Duration `json:"min_uptime_for_crash"`

	TrackChildProcesses     bool          `json:"track_child_processes"`
	SnapshotCaptureDuration time.Duration `json:"snapshot_capture_duration"`
	ExtraProcessNames       []string      `json:"extra_process_names,omitempty"`
	// RequireDescendant keeps only candidates whose parent chain leads back
	// to the primary, at the cost of losing detached children.
	RequireDescendant bool `json:"require_descendant"`

	Interpreter      string        `json:"interpreter,omitempty"`
	PackageManager   string        `json:"package_manager,omitempty"`
	UseUniqueProfile bool          `json:"use_unique_profile"`
	ProfileBaseDir   string        `json:"profile_base_dir,omitempty"`
	StopTimeout      time.Duration `json:"stop_timeout"`
	RestartInterval  time.Duration `json:"restart_interval"`
	LogDir           string        `json:"log_dir,omitempty"`
}

// WithDefaults returns a copy with zero-valued optional fields filled in.
func (d Definition) WithDefaults() Definition {
	if d.Kind == "" {
		d.Kind = KindExecutable
	}
	if d.SnapshotCaptureDuration <= 0 {
		d.SnapshotCaptureDuration = DefaultSnapshotCaptureDuration
	}
	if d.StopTimeout <= 0 {
		d.StopTimeout = DefaultStopTimeout
	}
	return d
}

// ProgramName infers the OS process name the service is expected to run
// under. The result is lower-cased and stripped of its extension so it can
// be used as a substring hint against decorated names (Foo.exe, foo-helper).
func (d Definition) ProgramName() string {
	var target string
	switch d.Kind {
	case KindPackageScript:
		if d.PackageManager != "" {
			target = d.PackageManager
		} else if f := strings.Fields(d.Command); len(f) > 0 {
			target = f[0]
		}
	case KindInterpreterScript:
		target = d.Interpreter
		if target == "" {
			target = DefaultInterpreter()
		}
	default:
		target = strings.TrimRight(d.Command, `/\`)
	}
	return NameStem(target)
}

// NameHints returns the inferred program name followed by the extra names,
// normalized and de-duplicated. Empty hints are dropped.
func (d Definition) NameHints() []string {
	seen := make(map[string]struct{}, len(d.ExtraProcessNames)+1)
	out := make([]string, 0, len(d.ExtraProcessNames)+1)
	add := func(s string) {
		s = NameStem(s)
		if s == "" {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	add(d.ProgramName())
	for _, n := range d.ExtraProcessNames {
		add(n)
	}
	return out
}

// NameStem lower-cases the base name of p and removes a trailing extension.
func NameStem(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	// handle both separators regardless of host OS
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		p = p[i+1:]
	}
	p = strings.ToLower(p)
	if ext := filepath.Ext(p); ext != "" && ext != p {
		p = strings.TrimSuffix(p, ext)
	}
	return p
}
