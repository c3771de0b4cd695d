//go:build windows

package transport

import "os/exec"

func setProcessGroup(*exec.Cmd) {}

func terminateProcess(cmd *exec.Cmd) {
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

func killProcess(cmd *exec.Cmd) {
	terminateProcess(cmd)
}
