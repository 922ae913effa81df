//go:build windows

package process

import (
	"os"
	"os/exec"
	"syscall"
)

func inheritedEnv() []string {
	return os.Environ()
}

func processGroupAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{}
}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = cmd.Process.Kill()
}
