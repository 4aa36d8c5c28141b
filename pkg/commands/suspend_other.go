//go:build !unix

package commands

import (
	"errors"
	"os"
	"os/exec"
	"runtime"
)

var errSuspendUnsupported = errors.New("process suspension is not supported on " + runtime.GOOS)

func shellInvocation(script string) (string, []string) {
	if runtime.GOOS == "windows" {
		return "cmd", []string{"/C", script}
	}
	return "sh", []string{"-c", script}
}

func prepareProcess(cmd *exec.Cmd) {}

// The child keeps running while the command is parked.
func suspendProcess(p *os.Process) error {
	return errSuspendUnsupported
}

func resumeProcess(p *os.Process) error {
	return errSuspendUnsupported
}

func terminateProcess(p *os.Process) error {
	return p.Kill()
}
