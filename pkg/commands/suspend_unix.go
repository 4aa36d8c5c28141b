//go:build unix

package commands

import (
	"os"
	"os/exec"
	"syscall"
)

// shellInvocation returns the interpreter and arguments for a script
func shellInvocation(script string) (string, []string) {
	return "/bin/sh", []string{"-c", script}
}

// prepareProcess puts the child in its own process group so signals
// reach everything it spawns
func prepareProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func suspendProcess(p *os.Process) error {
	return syscall.Kill(-p.Pid, syscall.SIGSTOP)
}

func resumeProcess(p *os.Process) error {
	return syscall.Kill(-p.Pid, syscall.SIGCONT)
}

func terminateProcess(p *os.Process) error {
	// A stopped group must be continued to act on SIGKILL promptly
	_ = syscall.Kill(-p.Pid, syscall.SIGCONT)
	return syscall.Kill(-p.Pid, syscall.SIGKILL)
}
