package media

import (
	"errors"
	"os/exec"
	"syscall"
	"time"

	"github.com/whisper-darkly/sticky-watch/metrics"
)

// setProcessGroup starts cmd in its own process group so signals reach
// every child ffmpeg spawns.
func setProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

// killGroup signals the process group of cmd. An already exited process is
// not an error.
func killGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return err
	}
	if err := syscall.Kill(-pgid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}

// terminate sends SIGTERM, waits up to grace for waitCh, then sends SIGKILL.
// It always drains waitCh and returns the process exit error.
func terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration, m *metrics.Metrics) error {
	signal := func(name string, sig syscall.Signal) {
		if err := killGroup(cmd, sig); err != nil {
			m.IncProcTerminate(name, "error")
			return
		}
		m.IncProcTerminate(name, "sent")
	}

	signal("SIGTERM", syscall.SIGTERM)
	select {
	case err := <-waitCh:
		return err
	case <-time.After(grace):
	}

	signal("SIGKILL", syscall.SIGKILL)
	return <-waitCh
}
