//go:build windows

package source

import (
	"os"
	"os/exec"
	"syscall"
)

func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

// Windows has no SIGSTOP; the reader discards frames while paused instead.
const canSignalPause = false

func suspendProcess(*os.Process) error { return nil }

func resumeProcess(*os.Process) error { return nil }
