// Package procs tracks background shell sessions spawned by the assistant:
// long-running builds, dev servers, watchers. Each session merges stdout and
// stderr into a bounded tail buffer the model can poll, and dead sessions
// are swept after a grace period so their output stays inspectable for a
// while but not forever.
package procs

import (
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	// DefaultBufferTail is how much merged output a session retains.
	DefaultBufferTail = 64 * 1024
	// DefaultTTL is how long an exited session stays pollable.
	DefaultTTL = 10 * time.Minute
	// DefaultSweepInterval is how often dead sessions are reclaimed.
	DefaultSweepInterval = time.Minute
)

// Config tunes the registry. Zero values select the defaults.
type Config struct {
	BufferTail    int
	TTL           time.Duration
	SweepInterval time.Duration
}

// Registry owns all background sessions. Safe for concurrent use.
type Registry struct {
	cfg Config

	mu       sync.Mutex
	seq      int
	sessions map[string]*proc

	stopSweep chan struct{}
	closeOnce sync.Once
}

type proc struct {
	id        string
	command   string
	cmd       *exec.Cmd
	stdin     stdinWriter
	buf       *tailBuffer
	startedAt time.Time

	mu       sync.Mutex
	exited   bool
	exitCode int
	diedAt   time.Time
}

type stdinWriter interface {
	Write(p []byte) (int, error)
	Close() error
}

// New creates a Registry and starts its sweeper.
func New(cfg Config) *Registry {
	if cfg.BufferTail <= 0 {
		cfg.BufferTail = DefaultBufferTail
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	r := &Registry{
		cfg:       cfg,
		sessions:  make(map[string]*proc),
		stopSweep: make(chan struct{}),
	}
	go r.sweepLoop()
	return r
}

// Spawn starts command in a shell with cwd as working directory and returns
// the new session id. The process is not bound to any request context; it
// lives until it exits, is killed, or the registry is disposed.
func (r *Registry) Spawn(command, cwd string) (string, error) {
	cmd := exec.Command("/bin/sh", "-c", command)
	cmd.Dir = cwd

	buf := newTailBuffer(r.cfg.BufferTail)
	cmd.Stdout = buf
	cmd.Stderr = buf

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return "", fmt.Errorf("stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start: %w", err)
	}

	r.mu.Lock()
	r.seq++
	id := fmt.Sprintf("proc-%d", r.seq)
	p := &proc{
		id:        id,
		command:   command,
		cmd:       cmd,
		stdin:     stdin,
		buf:       buf,
		startedAt: time.Now(),
	}
	r.sessions[id] = p
	r.mu.Unlock()

	go func() {
		err := cmd.Wait()
		code := 0
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else if err != nil {
			code = -1
		}
		p.mu.Lock()
		p.exited = true
		p.exitCode = code
		p.diedAt = time.Now()
		p.mu.Unlock()
		slog.Debug("background session exited", "id", id, "code", code)
	}()

	slog.Info("background session started", "id", id, "pid", cmd.Process.Pid)
	return id, nil
}

// Poll returns the session's accumulated output plus a status line.
// Non-destructive; polling does not consume the buffer.
func (r *Registry) Poll(id string) (string, error) {
	p, err := r.get(id)
	if err != nil {
		return "", err
	}

	out := p.buf.String()
	p.mu.Lock()
	status := "[status: running]"
	if p.exited {
		status = fmt.Sprintf("[status: exited(%d)]", p.exitCode)
	}
	p.mu.Unlock()

	if out == "" {
		return status, nil
	}
	if !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	return out + status, nil
}

// Write sends input to the session's stdin, appending a newline when the
// caller forgot one. Fails once the process has exited.
func (r *Registry) Write(id, input string) (string, error) {
	p, err := r.get(id)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	exited := p.exited
	p.mu.Unlock()
	if exited {
		return "", fmt.Errorf("session %s has already exited", id)
	}

	if !strings.HasSuffix(input, "\n") {
		input += "\n"
	}
	if _, err := p.stdin.Write([]byte(input)); err != nil {
		return "", fmt.Errorf("write to %s: %w", id, err)
	}
	return fmt.Sprintf("sent %d bytes to %s", len(input), id), nil
}

// Kill sends the session a cooperative termination signal.
func (r *Registry) Kill(id string) (string, error) {
	p, err := r.get(id)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	exited := p.exited
	p.mu.Unlock()
	if exited {
		return "", fmt.Errorf("session %s has already exited", id)
	}

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return "", fmt.Errorf("signal %s: %w", id, err)
	}
	return fmt.Sprintf("sent SIGTERM to %s", id), nil
}

// List renders a human-readable table of all sessions.
func (r *Registry) List() string {
	r.mu.Lock()
	procs := make([]*proc, 0, len(r.sessions))
	for _, p := range r.sessions {
		procs = append(procs, p)
	}
	r.mu.Unlock()

	if len(procs) == 0 {
		return "no background sessions"
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%-10s %-12s %-10s %s\n", "ID", "STATUS", "AGE", "COMMAND"))
	for _, p := range procs {
		p.mu.Lock()
		status := "running"
		if p.exited {
			status = fmt.Sprintf("exited(%d)", p.exitCode)
		}
		p.mu.Unlock()
		age := time.Since(p.startedAt).Round(time.Second)
		sb.WriteString(fmt.Sprintf("%-10s %-12s %-10s %s\n", p.id, status, age, truncateCommand(p.command)))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Dispose terminates every running session and forgets all of them.
// Idempotent; runs whenever the gateway leaves the awake state.
func (r *Registry) Dispose() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*proc)
	r.mu.Unlock()

	for id, p := range sessions {
		p.mu.Lock()
		running := !p.exited
		p.mu.Unlock()
		if running {
			if err := p.cmd.Process.Signal(syscall.SIGTERM); err == nil {
				slog.Info("terminated background session", "id", id)
			}
		}
		p.stdin.Close()
	}
}

// Close disposes all sessions and stops the sweeper. Called once at gateway
// shutdown.
func (r *Registry) Close() {
	r.closeOnce.Do(func() {
		close(r.stopSweep)
	})
	r.Dispose()
}

func (r *Registry) get(id string) (*proc, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("no such session: %s", id)
	}
	return p, nil
}

// sweepLoop periodically drops sessions that exited more than TTL ago.
func (r *Registry) sweepLoop() {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopSweep:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Registry) sweep() {
	cutoff := time.Now().Add(-r.cfg.TTL)
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range r.sessions {
		p.mu.Lock()
		dead := p.exited && p.diedAt.Before(cutoff)
		p.mu.Unlock()
		if dead {
			delete(r.sessions, id)
			slog.Debug("swept background session", "id", id)
		}
	}
}

func truncateCommand(s string) string {
	const max = 48
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > max {
		return s[:max-1] + "…"
	}
	return s
}

// tailBuffer is an io.Writer keeping only the last max bytes written.
type tailBuffer struct {
	mu   sync.Mutex
	max  int
	data []byte
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, p...)
	if len(b.data) > b.max {
		b.data = append([]byte(nil), b.data[len(b.data)-b.max:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.data)
}
