// Package process starts the external commands that back jobs and exposes
// them through a non-blocking handle the runner can poll.
package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// DefaultShell interprets job command lines.
const DefaultShell = "/bin/sh"

// DefaultKillGrace is how long a terminated process may take to exit before
// it is killed outright.
const DefaultKillGrace = 2 * time.Second

// Launcher starts a command with its stdout and stderr attached to out.
type Launcher interface {
	Launch(command, dir string, out *os.File) (Process, error)
}

// Process is a handle on a launched command. Exited never blocks, so the
// runner can check many processes from a single goroutine.
type Process interface {
	// Pid returns the operating system process id.
	Pid() int
	// Exited reports whether the process has terminated.
	Exited() bool
	// ExitCode returns the exit status. It is only meaningful once Exited
	// returns true; a process terminated by a signal reports -1.
	ExitCode() int
	// Terminate asks the process to exit (SIGTERM) and returns at once.
	Terminate() error
	// Kill forces the process to exit (SIGKILL) and returns at once.
	Kill() error
	// Stop sends a termination signal, waits up to grace for the process to
	// exit, then kills it. It returns once the process has exited.
	Stop(grace time.Duration) error
}

// ExecLauncher runs commands through a shell with os/exec.
type ExecLauncher struct {
	// Shell defaults to DefaultShell.
	Shell string
	// Env is appended to the runner's environment.
	Env []string
}

// NewExecLauncher returns a launcher using DefaultShell.
func NewExecLauncher() *ExecLauncher {
	return &ExecLauncher{Shell: DefaultShell}
}

// Launch implements Launcher. The command is started in its own process
// group so that Stop reaches any children it spawns.
func (l *ExecLauncher) Launch(command, dir string, out *os.File) (Process, error) {
	shell := l.Shell
	if shell == "" {
		shell = DefaultShell
	}
	cmd := exec.Command(shell, "-c", command)
	cmd.Dir = dir
	cmd.Stdout = out
	cmd.Stderr = out
	if len(l.Env) > 0 {
		cmd.Env = append(os.Environ(), l.Env...)
	}
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("process: start %q: %w", command, err)
	}

	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go p.wait()
	return p, nil
}

type execProcess struct {
	cmd      *exec.Cmd
	done     chan struct{}
	exitCode int
}

// wait is the only goroutine touching cmd after Start. exitCode is published
// to other goroutines by closing done.
func (p *execProcess) wait() {
	err := p.cmd.Wait()
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		p.exitCode = 0
	case errors.As(err, &exitErr):
		p.exitCode = exitErr.ExitCode()
	default:
		p.exitCode = -1
	}
	close(p.done)
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *execProcess) ExitCode() int {
	<-p.done
	return p.exitCode
}

func (p *execProcess) Terminate() error {
	if p.Exited() {
		return nil
	}
	// The signal may race with a normal exit; only report it if the
	// process is still there.
	if err := terminate(p.cmd); err != nil && !p.Exited() {
		return fmt.Errorf("process: terminate %d: %w", p.Pid(), err)
	}
	return nil
}

func (p *execProcess) Kill() error {
	if p.Exited() {
		return nil
	}
	if err := kill(p.cmd); err != nil && !p.Exited() {
		return fmt.Errorf("process: kill %d: %w", p.Pid(), err)
	}
	return nil
}

func (p *execProcess) Stop(grace time.Duration) error {
	if err := p.Terminate(); err != nil {
		return err
	}
	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
	}
	if err := p.Kill(); err != nil {
		return err
	}
	<-p.done
	return nil
}
