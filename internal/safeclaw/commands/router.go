// Package commands parses and routes the owner's slash commands.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Command is one parsed owner command.
type Command struct {
	Name       string
	Subcommand string
	Args       []string
	Flags      map[string]string
	RawText    string
}

// ErrNotACommand is returned by Parse when the message does not start with
// the command prefix. Callers use errors.Is to route such messages into the
// free-text path.
var ErrNotACommand = errors.New("not a command (missing prefix)")

// Handler processes one parsed command.
type Handler func(ctx context.Context, cmd *Command) (string, error)

// Router routes commands to handlers. Handlers register under the command
// name, optionally qualified as "name.subcommand" for dedicated subcommand
// handling; lookup falls back from the qualified key to the bare name.
type Router struct {
	handlers map[string]Handler
	prefix   string
}

// NewRouter creates a router for commands starting with prefix.
func NewRouter(prefix string) *Router {
	return &Router{
		handlers: make(map[string]Handler),
		prefix:   prefix,
	}
}

// Register registers a handler under a command key.
func (r *Router) Register(command string, handler Handler) {
	r.handlers[command] = handler
}

// Parse splits a message into a command. The first token after the prefix
// is the name, a non-flag second token becomes the subcommand, "--flag" and
// "--flag value" pairs land in Flags, everything else in Args.
func (r *Router) Parse(text string) (*Command, error) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, r.prefix) {
		return nil, ErrNotACommand
	}
	text = strings.TrimSpace(strings.TrimPrefix(text, r.prefix))
	if text == "" {
		return nil, fmt.Errorf("empty command")
	}

	parts := strings.Fields(text)
	cmd := &Command{
		Name:    strings.ToLower(parts[0]),
		Args:    []string{},
		Flags:   make(map[string]string),
		RawText: text,
	}

	if len(parts) > 1 {
		if !strings.HasPrefix(parts[1], "-") {
			cmd.Subcommand = parts[1]
			parts = parts[2:]
		} else {
			parts = parts[1:]
		}
		for i := 0; i < len(parts); i++ {
			part := parts[i]
			if strings.HasPrefix(part, "--") {
				name := strings.TrimPrefix(part, "--")
				if i+1 < len(parts) && !strings.HasPrefix(parts[i+1], "--") {
					cmd.Flags[name] = parts[i+1]
					i++
				} else {
					cmd.Flags[name] = "true"
				}
			} else {
				cmd.Args = append(cmd.Args, part)
			}
		}
	}
	return cmd, nil
}

// Route parses text and dispatches to the matching handler, preferring the
// "name.subcommand" key over the bare name.
func (r *Router) Route(ctx context.Context, text string) (string, error) {
	cmd, err := r.Parse(text)
	if err != nil {
		return "", err
	}

	key := cmd.Name
	if cmd.Subcommand != "" {
		key = cmd.Name + "." + cmd.Subcommand
	}
	handler, ok := r.handlers[key]
	if !ok {
		handler, ok = r.handlers[cmd.Name]
		if !ok {
			return "", fmt.Errorf("unknown command: %s", cmd.Name)
		}
	}
	return handler(ctx, cmd)
}

// Known reports whether a command name has any registered handler.
func (r *Router) Known(name string) bool {
	if _, ok := r.handlers[name]; ok {
		return true
	}
	prefix := name + "."
	for key := range r.handlers {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

// GetFlag returns a flag value with a default.
func (c *Command) GetFlag(name, defaultValue string) string {
	if val, ok := c.Flags[name]; ok {
		return val
	}
	return defaultValue
}

// HasFlag checks if a flag is present.
func (c *Command) HasFlag(name string) bool {
	_, ok := c.Flags[name]
	return ok
}

// GetArg returns an argument by index.
func (c *Command) GetArg(index int) (string, bool) {
	if index < 0 || index >= len(c.Args) {
		return "", false
	}
	return c.Args[index], true
}

// FullCommand returns the "name subcommand" form for display.
func (c *Command) FullCommand() string {
	if c.Subcommand != "" {
		return c.Name + " " + c.Subcommand
	}
	return c.Name
}
