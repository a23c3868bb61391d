package daemon

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
)

// ErrNotRunning is returned when no live daemon is registered.
var ErrNotRunning = errors.New("daemon is not running")

// StartDaemon spawns `<executable> serve <args...>` as a detached process
// and returns its PID.
func StartDaemon(args ...string) (int, error) {
	executable, err := os.Executable()
	if err != nil {
		return 0, err
	}
	return StartDaemonWithPath(executable, args...)
}

// StartDaemonWithPath is StartDaemon with an explicit binary path.
func StartDaemonWithPath(binaryPath string, args ...string) (int, error) {
	cmd := exec.Command(binaryPath, append([]string{"serve"}, args...)...)

	// Detach from parent process
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true, // Create new session (detach from terminal)
	}

	// No stdin/stdout/stderr - the daemon logs to its own file
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	// Reap our side; the child lives on in its own session
	go func() { _ = cmd.Wait() }()
	return pid, nil
}

// RunningDaemon returns the registered daemon if its process is alive.
// A stale registry entry is cleared.
func RunningDaemon(registry domain.DaemonRegistry, pm domain.ProcessManager) (*domain.DaemonInfo, error) {
	info, err := registry.Get()
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, ErrNotRunning
	}
	if !pm.IsRunning(info.PID) {
		_ = registry.Clear()
		return nil, ErrNotRunning
	}
	return info, nil
}

// StopDaemon terminates the running daemon and waits up to timeout
// for it to exit.
func StopDaemon(registry domain.DaemonRegistry, pm domain.ProcessManager, timeout time.Duration) error {
	info, err := RunningDaemon(registry, pm)
	if err != nil {
		return err
	}
	if err := pm.Terminate(info.PID); err != nil {
		return fmt.Errorf("failed to terminate daemon (pid %d): %w", info.PID, err)
	}

	deadline := time.Now().Add(timeout)
	for pm.IsRunning(info.PID) {
		if time.Now().After(deadline) {
			return fmt.Errorf("daemon (pid %d) did not exit within %s", info.PID, timeout)
		}
		time.Sleep(100 * time.Millisecond)
	}
	return registry.Clear()
}

// WaitForDaemon polls the registry until a live daemon appears or timeout passes.
func WaitForDaemon(registry domain.DaemonRegistry, pm domain.ProcessManager, timeout time.Duration) (*domain.DaemonInfo, error) {
	deadline := time.Now().Add(timeout)
	for {
		info, err := registry.Get()
		if err == nil && info != nil && pm.IsRunning(info.PID) {
			return info, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrNotRunning
		}
		time.Sleep(100 * time.Millisecond)
	}
}
