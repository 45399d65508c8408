package testutil

import (
	"os"
	"sync"
	"time"

	"github.com/specialistvlad/burstrun/internal/process"
)

// FakeClock is a manual clock. Sleep advances it instead of blocking.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

// NewFakeClock returns a clock set to a fixed instant.
func NewFakeClock() *FakeClock {
	return &FakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Sleep advances the clock by d and records the call.
func (c *FakeClock) Sleep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
}

// Advance moves the clock forward without recording a sleep.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Sleeps returns every duration passed to Sleep.
func (c *FakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// FakeCommand describes how a command behaves under FakeLauncher.
type FakeCommand struct {
	// Duration is how long the process runs on the fake clock.
	Duration time.Duration
	ExitCode int
	Output   string
	// LaunchErr makes Launch fail.
	LaunchErr error
	// IgnoreTerm keeps the process running after Terminate, like a command
	// that traps SIGTERM. Kill and Stop still end it.
	IgnoreTerm bool
}

// FakeLauncher starts FakeProcesses driven by a FakeClock. Unknown commands
// exit immediately with code 0.
type FakeLauncher struct {
	Clock    *FakeClock
	Commands map[string]FakeCommand

	mu       sync.Mutex
	launched []string
	procs    []*FakeProcess
}

// NewFakeLauncher returns a launcher bound to clock.
func NewFakeLauncher(clock *FakeClock) *FakeLauncher {
	return &FakeLauncher{Clock: clock, Commands: make(map[string]FakeCommand)}
}

// Launch implements process.Launcher.
func (l *FakeLauncher) Launch(command, dir string, out *os.File) (process.Process, error) {
	cmd := l.Commands[command]
	if cmd.LaunchErr != nil {
		return nil, cmd.LaunchErr
	}
	if cmd.Output != "" {
		if _, err := out.WriteString(cmd.Output); err != nil {
			return nil, err
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	p := &FakeProcess{
		clock:   l.Clock,
		cmd:     cmd,
		start:   l.Clock.Now(),
		pid:     1000 + len(l.procs),
		Command: command,
		Dir:     dir,
	}
	l.launched = append(l.launched, command)
	l.procs = append(l.procs, p)
	return p, nil
}

// Launched returns the commands in launch order.
func (l *FakeLauncher) Launched() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.launched...)
}

// Processes returns every process started so far.
func (l *FakeLauncher) Processes() []*FakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*FakeProcess(nil), l.procs...)
}

// FakeProcess exits once its duration has elapsed on the fake clock.
type FakeProcess struct {
	clock *FakeClock
	cmd   FakeCommand
	start time.Time
	pid   int

	Command string
	Dir     string

	mu         sync.Mutex
	stopped    bool
	terminated bool
	killed     bool
}

// Pid implements process.Process.
func (p *FakeProcess) Pid() int { return p.pid }

// Exited implements process.Process.
func (p *FakeProcess) Exited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped || p.clock.Now().Sub(p.start) >= p.cmd.Duration
}

// ExitCode implements process.Process. A stopped process reports -1.
func (p *FakeProcess) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return -1
	}
	return p.cmd.ExitCode
}

// Terminate implements process.Process.
func (p *FakeProcess) Terminate() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.terminated = true
	if !p.cmd.IgnoreTerm {
		p.stopped = true
	}
	return nil
}

// Kill implements process.Process.
func (p *FakeProcess) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killed = true
	p.stopped = true
	return nil
}

// Stop implements process.Process.
func (p *FakeProcess) Stop(time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	return nil
}

// Terminated reports whether Terminate was called.
func (p *FakeProcess) Terminated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}

// Killed reports whether Kill was called.
func (p *FakeProcess) Killed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

// Stopped reports whether the process was ended by a signal.
func (p *FakeProcess) Stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}
