// Package supervisor tracks a single external overlay daemon process. It
// is a small state machine, Stopped or Running, with a background monitor
// that reclaims the process handle and records the exit code the moment
// the daemon exits on its own.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/meshtower/overlay-provisioning-backend/interfaces"
)

// DefaultGracePeriod bounds how long Stop waits for a graceful exit
// before escalating to SIGKILL.
const DefaultGracePeriod = 10 * time.Second

// Process states reported by Status.
const (
	StateStopped = "stopped"
	StateRunning = "running"
)

// Status is a point-in-time snapshot of the supervised daemon.
type Status struct {
	State string `json:"status"`
	PID   int    `json:"pid,omitempty"`
	// LastExitCode is the exit code of the most recent run, nil until a
	// run has finished.
	LastExitCode *int `json:"last_exit_code,omitempty"`
}

// Supervisor owns at most one daemon process at a time. It is passed to
// whichever component needs it; there is no ambient global handle.
type Supervisor struct {
	daemonPath string
	grace      time.Duration
	log        *slog.Logger

	mu       sync.Mutex
	cmd      *exec.Cmd
	done     chan struct{}
	lastExit *int
}

// New creates a supervisor for the daemon at daemonPath.
func New(daemonPath string, log *slog.Logger) *Supervisor {
	return &Supervisor{daemonPath: daemonPath, grace: DefaultGracePeriod, log: log}
}

// Start launches the daemon with the given configuration file. Fails with
// ErrAlreadyRunning while a tracked handle is live. Returns the new PID.
func (s *Supervisor) Start(configPath string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != nil {
		return 0, fmt.Errorf("daemon (pid %d): %w", s.cmd.Process.Pid, interfaces.ErrAlreadyRunning)
	}

	cmd := exec.Command(s.daemonPath, "-config", configPath)
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start daemon: %w", err)
	}

	done := make(chan struct{})
	s.cmd = cmd
	s.done = done
	pid := cmd.Process.Pid
	s.log.Info("Daemon started", "pid", pid, "config", configPath)

	go s.monitor(cmd, done)
	return pid, nil
}

// monitor waits for the process to exit, then reclaims the handle and
// publishes the exit code so Status never has to probe the OS.
func (s *Supervisor) monitor(cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()
	code := cmd.ProcessState.ExitCode()

	s.mu.Lock()
	if s.cmd == cmd {
		s.cmd = nil
		s.done = nil
	}
	s.lastExit = &code
	s.mu.Unlock()

	close(done)
	s.log.Info("Daemon exited", "exitCode", code, "err", err)
}

// Stop requests graceful termination, escalating to SIGKILL after the
// grace period. Returns ErrAlreadyStopped if no handle is tracked.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	cmd := s.cmd
	done := s.done
	s.mu.Unlock()

	if cmd == nil {
		return fmt.Errorf("daemon: %w", interfaces.ErrAlreadyStopped)
	}

	s.log.Info("Stopping daemon", "pid", cmd.Process.Pid)
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Process may have exited between the snapshot and the signal.
		s.log.Debug("SIGTERM failed", "err", err)
	}

	select {
	case <-done:
		return nil
	case <-time.After(s.grace):
		s.log.Warn("Grace period elapsed, killing daemon", "pid", cmd.Process.Pid)
		_ = cmd.Process.Kill()
	case <-ctx.Done():
		_ = cmd.Process.Kill()
	}

	<-done
	return nil
}

// Status reports the current state without touching the OS.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != nil {
		return Status{State: StateRunning, PID: s.cmd.Process.Pid, LastExitCode: s.lastExit}
	}
	return Status{State: StateStopped, LastExitCode: s.lastExit}
}
