//go:build windows

package monitor

import "syscall"

var (
	kernel32             = syscall.NewLazyDLL("kernel32.dll")
	procTerminateProcess = kernel32.NewProc("TerminateProcess")
)

const processTerminate = 0x0001

// signalProcess terminates pid. Windows has no graceful signal for
// arbitrary processes, so both phases terminate. Open failures map onto the
// errno values the monitor understands: gone is ESRCH, denied is EPERM.
func signalProcess(pid int, _ bool, _ bool) error {
	if pid <= 0 {
		return nil
	}
	h, err := syscall.OpenProcess(processTerminate, false, uint32(pid))
	switch {
	case err == syscall.ERROR_ACCESS_DENIED:
		return syscall.EPERM
	case err != nil:
		return syscall.ESRCH
	}
	defer func() { _ = syscall.CloseHandle(h) }()
	if ret, _, err := procTerminateProcess.Call(uintptr(h), uintptr(1)); ret == 0 {
		return err
	}
	return nil
}
