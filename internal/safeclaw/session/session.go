// Package session holds one awake period's conversation state: the message
// history the provider sees and the bookkeeping that links pending approvals
// back to the tool calls that raised them.
//
// A Session is not safe for concurrent use. The gateway owns the only
// reference and serializes every access; that invariant is what keeps the
// whole approval dance free of locks.
package session

import (
	"time"

	"github.com/safeclaw/safeclaw/internal/safeclaw/provider"
)

// MaxHistory caps the message count after trimming.
const MaxHistory = 40

// PendingToolCall records which tool call must be answered when an approval
// resolves, keyed in the Session by approval ID.
type PendingToolCall struct {
	ToolCallID string
	Name       string // LLM-visible tool name
	Input      map[string]any
}

// Session is the append-only conversation of the current awake period.
type Session struct {
	startedAt time.Time
	messages  []provider.Message
	pending   map[string]PendingToolCall
}

// New returns an empty session started now.
func New() *Session {
	return &Session{
		startedAt: time.Now(),
		pending:   make(map[string]PendingToolCall),
	}
}

// StartedAt returns when the session began.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// Append adds messages to the history.
func (s *Session) Append(msgs ...provider.Message) {
	s.messages = append(s.messages, msgs...)
}

// Messages returns a copy of the history, oldest first.
func (s *Session) Messages() []provider.Message {
	return append([]provider.Message(nil), s.messages...)
}

// Len returns the current message count.
func (s *Session) Len() int { return len(s.messages) }

// TrimHistory enforces MaxHistory by keeping the tail, then repairs the cut:
// a leading tool_result whose assistant turn was trimmed away is dropped,
// because providers reject orphan tool results.
func (s *Session) TrimHistory() {
	if len(s.messages) > MaxHistory {
		s.messages = append([]provider.Message(nil), s.messages[len(s.messages)-MaxHistory:]...)
	}
	s.messages = dropOrphanResults(s.messages)
}

// ReplaceHead substitutes the oldest n messages with a single summary
// message, used by compaction. The remainder gets the same orphan repair as
// trimming.
func (s *Session) ReplaceHead(n int, summary provider.Message) {
	if n > len(s.messages) {
		n = len(s.messages)
	}
	rest := dropOrphanResults(s.messages[n:])
	s.messages = append([]provider.Message{summary}, rest...)
}

// EstimateTokens approximates the history's token count as ⌈len/4⌉ per
// message content. Only ever used as a compaction trigger, so cheap and
// rough is fine.
func (s *Session) EstimateTokens() int {
	total := 0
	for _, m := range s.messages {
		total += (len(m.Content) + 3) / 4
	}
	return total
}

// AddPending records the tool call an approval must answer once decided.
func (s *Session) AddPending(approvalID string, p PendingToolCall) {
	s.pending[approvalID] = p
}

// TakePending removes and returns the pending tool call for an approval.
func (s *Session) TakePending(approvalID string) (PendingToolCall, bool) {
	p, ok := s.pending[approvalID]
	if ok {
		delete(s.pending, approvalID)
	}
	return p, ok
}

// PendingCount returns how many approvals still await a decision.
func (s *Session) PendingCount() int { return len(s.pending) }

// RepairDanglingToolCalls inserts a synthetic tool_result for every assistant
// tool call that never received one, so the history stays replayable after a
// denial or an expired approval. The filler becomes the result content.
// Returns how many results were inserted.
func (s *Session) RepairDanglingToolCalls(filler string) int {
	answered := make(map[string]bool)
	for _, m := range s.messages {
		if m.Role == provider.RoleToolResult {
			answered[m.ToolCallID] = true
		}
	}

	inserted := 0
	out := make([]provider.Message, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, m)
		if m.Role != provider.RoleAssistant {
			continue
		}
		for _, tc := range m.ToolCalls {
			if answered[tc.ID] {
				continue
			}
			out = append(out, provider.Message{
				Role:       provider.RoleToolResult,
				Content:    filler,
				ToolCallID: tc.ID,
				ToolName:   tc.Name,
			})
			inserted++
		}
	}
	s.messages = out
	return inserted
}

// dropOrphanResults removes tool_result messages from the front of the slice
// until the first message is something a provider will accept opening a
// conversation.
func dropOrphanResults(msgs []provider.Message) []provider.Message {
	i := 0
	for i < len(msgs) && msgs[i].Role == provider.RoleToolResult {
		i++
	}
	return msgs[i:]
}
