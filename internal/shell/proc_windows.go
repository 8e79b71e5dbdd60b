//go:build windows

package shell

import (
	"os"
	"os/exec"
)

func setProcessGroup(cmd *exec.Cmd) {}

func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

func exitStatus(ps *os.ProcessState, waitErr error) int {
	if ps == nil {
		if waitErr != nil {
			return ExitSpawnFailed
		}
		return 0
	}
	if code := ps.ExitCode(); code >= 0 {
		return code
	}
	return 1
}
