// Package snapshot attributes processes to a launch by diffing two process
// table enumerations taken around it. Launchers that hand work to another
// process and exit leave no parent/child link to follow, so set difference
// plus name matching is what finds the real workload.
package snapshot

import (
	"context"
	"sort"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Proc is one process table record.
type Proc struct {
	PID     int    `json:"pid"`
	PPID    int    `json:"ppid"`
	Name    string `json:"name"`
	Cmdline string `json:"cmdline,omitempty"`
	// CreateTime is the start time in Unix milliseconds, 0 when unknown.
	CreateTime int64 `json:"create_time"`
}

// Snapshot maps pid to the record observed at enumeration time.
type Snapshot map[int]Proc

// Enumerator lists every process visible to the supervisor.
type Enumerator interface {
	Enumerate(ctx context.Context) (Snapshot, error)
}

// EnumeratorFunc adapts a function to Enumerator.
type EnumeratorFunc func(ctx context.Context) (Snapshot, error)

func (f EnumeratorFunc) Enumerate(ctx context.Context) (Snapshot, error) { return f(ctx) }

// ProcessTable enumerates the host process table through gopsutil.
// Processes that vanish mid-enumeration keep whatever fields were read.
type ProcessTable struct{}

func (ProcessTable) Enumerate(ctx context.Context) (Snapshot, error) {
	procs, err := gopsproc.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	snap := make(Snapshot, len(procs))
	for _, p := range procs {
		rec := Proc{PID: int(p.Pid)}
		if name, err := p.NameWithContext(ctx); err == nil {
			rec.Name = name
		}
		if ppid, err := p.PpidWithContext(ctx); err == nil {
			rec.PPID = int(ppid)
		}
		if ct, err := p.CreateTimeWithContext(ctx); err == nil {
			rec.CreateTime = ct
		}
		if cl, err := p.CmdlineWithContext(ctx); err == nil {
			rec.Cmdline = cl
		}
		snap[rec.PID] = rec
	}
	return snap, nil
}

// Diff returns the processes of after that were not in before, ordered by
// pid. A pid present in both with a different known start time was reused
// and counts as new.
func Diff(before, after Snapshot) []Proc {
	var out []Proc
	for pid, p := range after {
		old, seen := before[pid]
		if seen && !reused(old, p) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

func reused(old, cur Proc) bool {
	return old.CreateTime != 0 && cur.CreateTime != 0 && old.CreateTime != cur.CreateTime
}
