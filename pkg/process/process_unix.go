//go:build !windows

package process

import (
	"os"
	"os/exec"
	"syscall"
)

func inheritedEnv() []string {
	return os.Environ()
}

// processGroupAttr places the child in its own process group so the whole
// tree can be killed on timeout or cancellation rather than just the
// top-level shell.
func processGroupAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		_ = cmd.Process.Kill()
		return
	}
	_ = syscall.Kill(-pgid, syscall.SIGKILL)
}
