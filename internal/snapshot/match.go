package snapshot

import (
	"strings"

	"github.com/loykin/watchdogd/internal/service"
)

// MatchName reports whether a process name contains any of the hints,
// ignoring case and a trailing extension. Hints are expected in
// service.NameStem form.
func MatchName(name string, hints []string) bool {
	if name == "" {
		return false
	}
	lower := strings.ToLower(name)
	stem := service.NameStem(name)
	for _, h := range hints {
		if h == "" {
			continue
		}
		if strings.Contains(lower, h) || strings.Contains(stem, h) {
			return true
		}
	}
	return false
}

// Validator corroborates a name-matched candidate before it is tracked.
type Validator func(p Proc) bool

// CmdlineContains accepts candidates whose command line contains sub.
func CmdlineContains(sub string) Validator {
	return func(p Proc) bool { return strings.Contains(p.Cmdline, sub) }
}

// DescendantOf accepts candidates whose parent chain in snap reaches root.
// Processes re-parented away from root, as daemons do when they detach,
// are rejected.
func DescendantOf(snap Snapshot, root int) Validator {
	return func(p Proc) bool {
		seen := map[int]bool{p.PID: true}
		for ppid := p.PPID; ppid > 0 && !seen[ppid]; {
			if ppid == root {
				return true
			}
			seen[ppid] = true
			parent, ok := snap[ppid]
			if !ok {
				return false
			}
			ppid = parent.PPID
		}
		return false
	}
}

func acceptAll(vs []Validator, p Proc) bool {
	for _, v := range vs {
		if v != nil && !v(p) {
			return false
		}
	}
	return true
}
