package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

const (
	defaultShellTimeout = 60 * time.Second
	maxShellTimeout     = 10 * time.Minute
)

func (r *Runner) execShell(ctx context.Context, params map[string]any) (string, error) {
	command, err := requireString(params, "command")
	if err != nil {
		return "", err
	}
	if err := r.guard.CheckCommand(command); err != nil {
		return "", err
	}
	cwd, err := r.resolveCwd(params)
	if err != nil {
		return "", err
	}

	timeout := defaultShellTimeout
	if secs, ok := numberArg(params, "timeout_seconds"); ok && secs > 0 {
		timeout = time.Duration(secs * float64(time.Second))
		if timeout > maxShellTimeout {
			timeout = maxShellTimeout
		}
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Dir = cwd
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	runErr := cmd.Run()

	out := r.guard.RedactOutput(buf.String())
	if out == "" {
		out = "(no output)"
	}

	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Sprintf("%s\n[command timed out after %s]", out, timeout), nil
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return fmt.Sprintf("%s\n[exit code: %d]", out, exitErr.ExitCode()), nil
	}
	if runErr != nil {
		return "", fmt.Errorf("run command: %w", runErr)
	}
	return out, nil
}

func (r *Runner) execShellBg(params map[string]any) (string, error) {
	command, err := requireString(params, "command")
	if err != nil {
		return "", err
	}
	if err := r.guard.CheckCommand(command); err != nil {
		return "", err
	}
	cwd, err := r.resolveCwd(params)
	if err != nil {
		return "", err
	}
	id, err := r.procs.Spawn(command, cwd)
	if err != nil {
		return "", fmt.Errorf("spawn: %w", err)
	}
	return fmt.Sprintf("Started background session %s. Use process_poll to read its output.", id), nil
}

func (r *Runner) processPoll(params map[string]any) (string, error) {
	id, err := requireString(params, "process_id")
	if err != nil {
		return "", err
	}
	out, err := r.procs.Poll(id)
	if err != nil {
		return "", err
	}
	return r.guard.RedactOutput(out), nil
}

func (r *Runner) processWrite(params map[string]any) (string, error) {
	id, err := requireString(params, "process_id")
	if err != nil {
		return "", err
	}
	input, ok := stringArg(params, "input")
	if !ok {
		return "", fmt.Errorf("missing required parameter %q", "input")
	}
	return r.procs.Write(id, input)
}

func (r *Runner) processKill(params map[string]any) (string, error) {
	id, err := requireString(params, "process_id")
	if err != nil {
		return "", err
	}
	return r.procs.Kill(id)
}

func (r *Runner) processList() (string, error) {
	return r.procs.List(), nil
}

// resolveCwd maps the optional cwd parameter into the workspace, defaulting
// to the workspace root.
func (r *Runner) resolveCwd(params map[string]any) (string, error) {
	cwd := optionalString(params, "cwd")
	if cwd == "" {
		return r.ws.Dir(), nil
	}
	return r.ws.Resolve(cwd)
}
