package matrix

import "strings"

// renderHTML converts the small Markdown subset SafeClaw replies use into
// HTML for a Matrix formatted_body.
//
// Supported constructs:
//   - Fenced code blocks  ```…```  → <pre><code>…</code></pre>
//   - Inline code  `…`             → <code>…</code>
//   - Bold  **…**                  → <strong>…</strong>
//   - Newlines outside fences      → <br/>
//
// Fence content is entity-escaped and shielded from the inline passes:
// skill previews carry JavaScript, and template literals or ** operators
// in them must not turn into markup.
func renderHTML(md string) string {
	var out strings.Builder
	var plain strings.Builder
	flush := func() {
		s := plain.String()
		plain.Reset()
		s = replaceDelimited(s, "`", "<code>", "</code>")
		s = replaceDelimited(s, "**", "<strong>", "</strong>")
		out.WriteString(strings.ReplaceAll(s, "\n", "<br/>"))
	}

	inCode := false
	for _, line := range strings.Split(md, "\n") {
		if strings.HasPrefix(line, "```") {
			if !inCode {
				flush()
				out.WriteString("<pre><code>")
				inCode = true
			} else {
				out.WriteString("</code></pre>")
				inCode = false
			}
			continue
		}
		if inCode {
			out.WriteString(escapeEntities(line))
			out.WriteString("\n")
		} else {
			plain.WriteString(line)
			plain.WriteString("\n")
		}
	}
	if inCode {
		out.WriteString("</code></pre>")
	}
	flush()
	return out.String()
}

var entityReplacer = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escapeEntities(s string) string { return entityReplacer.Replace(s) }

// replaceDelimited rewrites delim…delim pairs as open+content+close.
// An unmatched opener is left as-is.
func replaceDelimited(s, delim, open, close string) string {
	var b strings.Builder
	for {
		start := strings.Index(s, delim)
		if start == -1 {
			b.WriteString(s)
			break
		}
		end := strings.Index(s[start+len(delim):], delim)
		if end == -1 {
			b.WriteString(s)
			break
		}
		end += start + len(delim)
		b.WriteString(s[:start])
		b.WriteString(open)
		b.WriteString(s[start+len(delim) : end])
		b.WriteString(close)
		s = s[end+len(delim):]
	}
	return b.String()
}
