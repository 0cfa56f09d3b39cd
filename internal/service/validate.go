package service

import (
	"errors"
	"fmt"
)

// ErrInvalidDefinition is wrapped by every validation failure.
var ErrInvalidDefinition = errors.New("invalid service definition")

func invalid(name, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidDefinition, name, fmt.Sprintf(format, args...))
}

// Validate checks structural constraints that do not touch the filesystem.
// Path existence is checked by the launch strategies at spawn time.
func (d Definition) Validate() error {
	name := d.Name
	if name == "" {
		return invalid("<unnamed>", "name is required")
	}
	var errs []error
	if !d.Kind.Valid() {
		errs = append(errs, invalid(name, "unknown kind %q", d.Kind))
	}
	if d.Command == "" {
		errs = append(errs, invalid(name, "command is required"))
	}
	if d.Kind == KindPackageScript && d.Workspace == "" {
		errs = append(errs, invalid(name, "workspace is required for %s", KindPackageScript))
	}
	if d.StartupDelay < 0 {
		errs = append(errs, invalid(name, "startup delay must not be negative"))
	}
	if d.MinUptimeForCrash < 0 {
		errs = append(errs, invalid(name, "min uptime for crash must not be negative"))
	}
	if d.SnapshotCaptureDuration < 0 {
		errs = append(errs, invalid(name, "snapshot capture duration must be positive"))
	}
	if d.StopTimeout < 0 {
		errs = append(errs, invalid(name, "stop timeout must not be negative"))
	}
	if d.RestartInterval < 0 {
		errs = append(errs, invalid(name, "restart interval must not be negative"))
	}
	return errors.Join(errs...)
}

// ValidateSet validates each definition and enforces name uniqueness among
// enabled definitions. Disabled definitions may share a name.
func ValidateSet(defs []Definition) error {
	var errs []error
	seen := make(map[string]struct{}, len(defs))
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if !d.Enabled {
			continue
		}
		if _, dup := seen[d.Name]; dup {
			errs = append(errs, invalid(d.Name, "duplicate name among enabled services"))
			continue
		}
		seen[d.Name] = struct{}{}
	}
	return errors.Join(errs...)
}
