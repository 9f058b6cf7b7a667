//go:build !windows

package source

import (
	"os"
	"os/exec"
	"syscall"
)

// setProcessGroup keeps terminal signals away from capture processes; the
// session stops them itself after draining.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// Capture processes are paused with job-control signals, so the device
// stays open and nothing is read while paused.
const canSignalPause = true

func suspendProcess(p *os.Process) error { return p.Signal(syscall.SIGSTOP) }

func resumeProcess(p *os.Process) error { return p.Signal(syscall.SIGCONT) }
