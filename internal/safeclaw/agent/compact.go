package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/safeclaw/safeclaw/internal/safeclaw/provider"
)

const (
	// compactionThreshold is the estimated token count above which the
	// oldest messages are folded into a summary.
	compactionThreshold = 8000
	// compactionBatch is how many messages one compaction folds away.
	compactionBatch = 12
)

const summariserPrompt = `Summarise the following conversation excerpt between an owner and their assistant. Keep every fact, decision, file path and open task; drop pleasantries. Write a compact plain-text summary, at most 200 words.`

// maybeCompact folds the oldest messages into a model-written summary when
// the session has grown past the threshold. Failure is silent: the session
// is left untouched and the turn proceeds with full history. Returns a
// one-line notice for the owner on success, empty otherwise.
func (l *Loop) maybeCompact(ctx context.Context, prov provider.Provider, model string) string {
	if l.sess.EstimateTokens() < compactionThreshold {
		return ""
	}
	msgs := l.sess.Messages()
	if len(msgs) <= compactionBatch {
		return ""
	}
	head := msgs[:compactionBatch]

	resp, err := prov.Chat(ctx, provider.ChatRequest{
		Model: model,
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: summariserPrompt},
			{Role: provider.RoleUser, Content: renderTranscript(head)},
		},
	})
	if err != nil || strings.TrimSpace(resp.Text) == "" {
		return ""
	}

	l.sess.ReplaceHead(compactionBatch, provider.Message{
		Role:    provider.RoleSystem,
		Content: fmt.Sprintf("[Conversation summary — %d messages compacted]\n\n%s", compactionBatch, strings.TrimSpace(resp.Text)),
	})
	return fmt.Sprintf("📝 Compacted %d older messages to stay within the context window.", compactionBatch)
}

// renderTranscript flattens messages into the plain-text form fed to the
// summariser.
func renderTranscript(msgs []provider.Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		switch m.Role {
		case provider.RoleToolResult:
			fmt.Fprintf(&sb, "tool result (%s): %s\n", m.ToolName, m.Content)
		case provider.RoleAssistant:
			sb.WriteString("assistant: " + m.Content)
			for _, tc := range m.ToolCalls {
				fmt.Fprintf(&sb, " [called %s]", tc.Name)
			}
			sb.WriteString("\n")
		default:
			fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
		}
	}
	return sb.String()
}
