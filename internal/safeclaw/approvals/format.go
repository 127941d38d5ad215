package approvals

import (
	"fmt"
	"strings"
)

// FormatRequest renders the owner-facing prompt for a single pending request.
func FormatRequest(req *Request) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("⏳ **Approval required**: %s.%s\n", req.ToolName, req.Action))
	if req.Summary != "" {
		sb.WriteString(fmt.Sprintf("> %s\n", req.Summary))
	}
	sb.WriteString(fmt.Sprintf("Ticket `%s` · expires %s\n", req.ID, req.ExpiresAt.Format("15:04:05")))
	sb.WriteString(fmt.Sprintf("Reply `/confirm %s` to run it or `/deny %s` to drop it.", req.ID, req.ID))
	return sb.String()
}

// FormatBatch renders the owner-facing prompt for several requests raised in
// the same assistant turn. Requests must share the batch ID.
func FormatBatch(batchID string, reqs []*Request) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("⏳ **Approval required** — %d actions:\n", len(reqs)))
	for i, req := range reqs {
		sb.WriteString(fmt.Sprintf("%d. `%s` %s.%s", i+1, req.ID, req.ToolName, req.Action))
		if req.Summary != "" {
			sb.WriteString(" — " + req.Summary)
		}
		sb.WriteString("\n")
	}
	sb.WriteString(fmt.Sprintf("Reply `/confirm all %s` or `/deny all %s` for the whole batch,\n", batchID, batchID))
	sb.WriteString("or decide one at a time with `/confirm <ticket>` / `/deny <ticket>`.")
	return sb.String()
}

// FormatPendingList summarises what is still awaiting a decision. Shown when
// the owner sends free text while an approval is outstanding.
func FormatPendingList(reqs []*Request) string {
	if len(reqs) == 0 {
		return "Nothing is awaiting approval."
	}
	var sb strings.Builder
	sb.WriteString("⏳ Still waiting on your decision:\n")
	for _, req := range reqs {
		sb.WriteString(fmt.Sprintf("• `%s` %s.%s", req.ID, req.ToolName, req.Action))
		if req.Summary != "" {
			sb.WriteString(" — " + req.Summary)
		}
		sb.WriteString(fmt.Sprintf(" (expires %s)\n", req.ExpiresAt.Format("15:04:05")))
	}
	sb.WriteString("Reply `/confirm <ticket>` or `/deny <ticket>` first.")
	return sb.String()
}
