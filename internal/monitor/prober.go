package monitor

import (
	"context"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Prober answers whether a pid is running and returns an identity token
// (start time in Unix milliseconds, 0 when unknown). A changed token means
// the pid now belongs to another process.
type Prober interface {
	Probe(ctx context.Context, pid int) (alive bool, token int64, err error)
}

// ProcProber probes the host. Zombies count as exited.
type ProcProber struct{}

func (ProcProber) Probe(ctx context.Context, pid int) (bool, int64, error) {
	if pid <= 0 {
		return false, 0, nil
	}
	ok, err := gopsproc.PidExistsWithContext(ctx, int32(pid))
	if err != nil {
		return false, 0, err
	}
	if !ok || isZombie(pid) {
		return false, 0, nil
	}
	return true, startToken(pid), nil
}
