//go:build !windows

package strategy

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr puts the child in its own process group so a stop
// can signal the whole group.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
