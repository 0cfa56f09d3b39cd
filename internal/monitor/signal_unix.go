//go:build !windows

package monitor

import "syscall"

// signalProcess delivers a graceful or forceful stop. With group set the
// whole process group led by pid is signalled, falling back to pid alone.
func signalProcess(pid int, group, force bool) error {
	sig := syscall.SIGTERM
	if force {
		sig = syscall.SIGKILL
	}
	if group {
		if err := syscall.Kill(-pid, sig); err == nil {
			return nil
		}
	}
	return syscall.Kill(pid, sig)
}
