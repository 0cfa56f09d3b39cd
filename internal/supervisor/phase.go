package supervisor

// Phase is a service lifecycle phase.
//
//	Pending -> Starting -> Running -> (Stopping | Crashed) -> (Stopped | Starting)
type Phase string

const (
	PhasePending  Phase = "pending"
	PhaseStarting Phase = "starting"
	PhaseRunning  Phase = "running"
	PhaseStopping Phase = "stopping"
	PhaseCrashed  Phase = "crashed"
	PhaseStopped  Phase = "stopped"
)

// Phases lists every phase in lifecycle order.
func Phases() []Phase {
	return []Phase{PhasePending, PhaseStarting, PhaseRunning, PhaseStopping, PhaseCrashed, PhaseStopped}
}

func (p Phase) String() string { return string(p) }

// Active reports whether an instance may own processes in this phase.
func (p Phase) Active() bool {
	return p == PhaseStarting || p == PhaseRunning || p == PhaseStopping
}
