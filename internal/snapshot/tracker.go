package snapshot

import (
	"context"
	"log/slog"
	"time"

	"github.com/loykin/watchdogd/internal/service"
)

// Result is the tracked set captured for one launch.
type Result struct {
	Primary         int
	PrimaryIncluded bool
	// Members lists every tracked process, the primary first when included.
	Members  []Proc
	Degraded bool
}

// PIDs returns the member pids in order.
func (r Result) PIDs() []int {
	out := make([]int, len(r.Members))
	for i, m := range r.Members {
		out[i] = m.PID
	}
	return out
}

// Launch identifies the spawn being captured.
type Launch struct {
	PID       int
	StartedAt time.Time
	// Alive reports whether the primary is still running; nil falls back to
	// presence in the AFTER snapshot.
	Alive func() bool
	// Validators corroborate candidates for this launch only.
	Validators []Validator
}

// Tracker performs the BEFORE/AFTER capture. The zero value enumerates the
// host process table.
type Tracker struct {
	Enum   Enumerator
	Logger *slog.Logger
	// Validators apply to every launch.
	Validators []Validator
	// After is the capture-window timer; nil uses time.After.
	After func(time.Duration) <-chan time.Time
}

func (t *Tracker) enum() Enumerator {
	if t.Enum != nil {
		return t.Enum
	}
	return ProcessTable{}
}

func (t *Tracker) log() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}

func (t *Tracker) after(d time.Duration) <-chan time.Time {
	if t.After != nil {
		return t.After(d)
	}
	return time.After(d)
}

// Before records the baseline immediately prior to spawning. It returns a
// nil snapshot without enumerating when def does not track children.
func (t *Tracker) Before(ctx context.Context, def service.Definition) (Snapshot, error) {
	if !def.TrackChildProcesses {
		return nil, nil
	}
	snap, err := t.enum().Enumerate(ctx)
	if err != nil {
		return nil, &SnapshotError{Service: def.Name, Phase: "before", Err: err}
	}
	return snap, nil
}

// Capture waits out the capture window measured from the spawn time and
// diffs the AFTER snapshot against before. With tracking off the result is
// exactly the primary. Enumeration problems degrade to the primary and are
// returned as *SnapshotError alongside the usable result. A cancelled ctx
// cuts the wait short but AFTER is still taken so the caller can tear down
// whatever the launch produced.
func (t *Tracker) Capture(ctx context.Context, def service.Definition, before Snapshot, l Launch) (Result, error) {
	primaryOnly := Result{Primary: l.PID, PrimaryIncluded: true, Members: []Proc{{PID: l.PID}}}
	if !def.TrackChildProcesses {
		return primaryOnly, nil
	}
	if before == nil {
		primaryOnly.Degraded = true
		return primaryOnly, &SnapshotError{Service: def.Name, Phase: "before", Err: ErrNoBaseline}
	}

	window := def.SnapshotCaptureDuration
	if window <= 0 {
		window = service.DefaultSnapshotCaptureDuration
	}
	if remaining := window - time.Since(l.StartedAt); remaining > 0 {
		select {
		case <-t.after(remaining):
		case <-ctx.Done():
		}
	}

	after, err := t.enum().Enumerate(context.WithoutCancel(ctx))
	if err != nil {
		primaryOnly.Degraded = true
		return primaryOnly, &SnapshotError{Service: def.Name, Phase: "after", Err: err}
	}

	res := Result{Primary: l.PID}
	alive := l.Alive
	if alive == nil {
		alive = func() bool { _, ok := after[l.PID]; return ok }
	}
	if alive() {
		p, ok := after[l.PID]
		if !ok {
			p = Proc{PID: l.PID}
		}
		res.PrimaryIncluded = true
		res.Members = append(res.Members, p)
	}

	hints := def.NameHints()
	validators := append(append([]Validator(nil), t.Validators...), l.Validators...)
	if def.RequireDescendant {
		validators = append(validators, DescendantOf(after, l.PID))
	}
	for _, c := range Diff(before, after) {
		if c.PID == l.PID {
			continue
		}
		if !MatchName(c.Name, hints) || !acceptAll(validators, c) {
			continue
		}
		res.Members = append(res.Members, c)
	}
	t.log().Debug("snapshot captured",
		"service", def.Name,
		"primary", l.PID,
		"primary_included", res.PrimaryIncluded,
		"tracked", len(res.Members))
	return res, nil
}
