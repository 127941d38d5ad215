// Package audit writes the append-only event trail. Every security-relevant
// moment (wake, approval, denial, skill install, rejected sender) becomes
// one JSON line in audit.jsonl, and the significant ones can be mirrored to
// the owner's room as notices.
//
// Audit writes never fail the operation they describe: an unwritable audit
// file is logged and the gateway carries on.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/safeclaw/safeclaw/common/redact"
)

// Event is one audit record.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// Notifier mirrors an event to the owner. Implementations must be quick or
// spin off their own goroutine; Record calls them inline.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

// NoopNotifier discards events; used until the transport is connected.
type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, Event) {}

// icons give significant event types their marker in owner notices.
// An event type with no icon is file-only regardless of the verbose toggle.
var icons = map[string]string{
	"approval_created":   "⏳",
	"approval_approved":  "✅",
	"approval_denied":    "❌",
	"approval_expired":   "⌛",
	"skill_installed":    "🧩",
	"skill_removed":      "🗑️",
	"auto_sleep":         "💤",
	"secretguard_denied": "⛔",
	"auth_rejected":      "🚫",
}

// Icon returns the marker for an event type, or empty when the type is not
// considered significant.
func Icon(eventType string) string { return icons[eventType] }

// Logger appends events to a JSONL file.
type Logger struct {
	mu       sync.Mutex
	path     string
	f        *os.File
	verbose  bool
	notifier Notifier
}

// NewLogger opens (or creates) the audit file at path in append mode.
func NewLogger(path string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &Logger{path: path, f: f, notifier: NoopNotifier{}}, nil
}

// SetNotifier installs the owner-notice mirror.
func (l *Logger) SetNotifier(n Notifier) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n == nil {
		n = NoopNotifier{}
	}
	l.notifier = n
}

// SetVerbose toggles mirroring of significant events to the owner.
func (l *Logger) SetVerbose(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.verbose = on
}

// Verbose reports whether mirroring is on.
func (l *Logger) Verbose() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.verbose
}

// Record appends one event. Detail values with credential-looking keys are
// redacted before they reach disk.
func (l *Logger) Record(ctx context.Context, eventType string, details map[string]any) Event {
	e := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
	}
	if len(details) > 0 {
		e.Details = redact.Map(details)
	}

	l.mu.Lock()
	data, err := json.Marshal(e)
	if err == nil {
		_, err = l.f.Write(append(data, '\n'))
	}
	verbose := l.verbose
	notifier := l.notifier
	l.mu.Unlock()

	if err != nil {
		slog.Error("audit write failed", "type", eventType, "err", err)
	}
	if verbose && Icon(eventType) != "" {
		notifier.Notify(ctx, e)
	}
	return e
}

// Tail returns the newest n events, oldest first. Unparseable lines are
// skipped: a torn write at the end of the file must not break /audit.
func (l *Logger) Tail(n int) ([]Event, error) {
	if n <= 0 {
		n = 10
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", l.path, err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		events = append(events, e)
		if len(events) > n {
			events = events[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", l.path, err)
	}
	return events, nil
}

// Close flushes and closes the audit file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

// Format renders events for the /audit reply.
func Format(events []Event) string {
	if len(events) == 0 {
		return "No audit events yet."
	}
	var sb []byte
	for _, e := range events {
		icon := Icon(e.Type)
		if icon == "" {
			icon = "•"
		}
		line := fmt.Sprintf("%s %s %s", e.Timestamp.Format("01-02 15:04:05"), icon, e.Type)
		if len(e.Details) > 0 {
			if data, err := json.Marshal(e.Details); err == nil {
				line += " " + string(data)
			}
		}
		sb = append(sb, line...)
		sb = append(sb, '\n')
	}
	return string(sb[:len(sb)-1])
}
