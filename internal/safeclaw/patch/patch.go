// Package patch applies the multi-file patch envelope the assistant emits
// through the apply_patch tool.
//
// The format is a block bounded by "*** Begin Patch" and "*** End Patch"
// containing Add File, Delete File and Update File directives. Updates carry
// hunks with space-prefixed context, "-" removals and "+" additions,
// optionally separated by "@@" markers. A hunk that no longer matches is a
// per-file error; the remaining directives still apply, and a failed file is
// never half-written.
package patch

import (
	"errors"
	"fmt"
	"strings"
)

const (
	beginMarker  = "*** Begin Patch"
	endMarker    = "*** End Patch"
	addPrefix    = "*** Add File: "
	deletePrefix = "*** Delete File: "
	updatePrefix = "*** Update File: "
	movePrefix   = "*** Move to: "
)

// FS is the filesystem surface the engine works against. Paths are the
// patch's own relative paths; the implementation decides where they land and
// which are off-limits.
type FS interface {
	ReadFile(path string) (string, error)
	WriteFile(path, content string) error
	DeleteFile(path string) error
	Exists(path string) (bool, error)
}

// Result reports the outcome for one directive.
type Result struct {
	Path    string
	Op      string // "add", "update", "delete"
	MovedTo string
	Err     error
}

type directive struct {
	op      string
	path    string
	moveTo  string
	content []string // add
	hunks   []hunk   // update
}

type hunk struct {
	old []string // context + removals, in order
	new []string // context + additions, in order
}

// Apply parses the envelope and applies every directive. A malformed
// envelope is a hard error; per-file failures land in the results.
func Apply(fsys FS, text string) ([]Result, error) {
	directives, err := parse(text)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(directives))
	for _, d := range directives {
		r := Result{Path: d.path, Op: d.op, MovedTo: d.moveTo}
		r.Err = applyDirective(fsys, d)
		results = append(results, r)
	}
	return results, nil
}

func applyDirective(fsys FS, d directive) error {
	switch d.op {
	case "add":
		exists, err := fsys.Exists(d.path)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("file already exists")
		}
		return fsys.WriteFile(d.path, strings.Join(d.content, "\n")+"\n")

	case "delete":
		exists, err := fsys.Exists(d.path)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("file does not exist")
		}
		return fsys.DeleteFile(d.path)

	case "update":
		content, err := fsys.ReadFile(d.path)
		if err != nil {
			return err
		}
		lines := strings.Split(content, "\n")

		// All hunks apply in memory first so a mismatch leaves the file
		// untouched.
		cursor := 0
		for i, h := range d.hunks {
			var ok bool
			lines, cursor, ok = applyHunk(lines, h, cursor)
			if !ok {
				return fmt.Errorf("hunk %d does not match current file content", i+1)
			}
		}

		target := d.path
		if d.moveTo != "" {
			target = d.moveTo
		}
		if err := fsys.WriteFile(target, strings.Join(lines, "\n")); err != nil {
			return err
		}
		if d.moveTo != "" && d.moveTo != d.path {
			return fsys.DeleteFile(d.path)
		}
		return nil
	}
	return fmt.Errorf("unknown directive %q", d.op)
}

// applyHunk substitutes the hunk's old block with its new block. A hunk with
// no old lines is a pure addition and appends at end of file. Returns the
// new lines, the position after the substitution, and whether it matched.
func applyHunk(lines []string, h hunk, from int) ([]string, int, bool) {
	if len(h.old) == 0 {
		// Append before a trailing empty element so the file keeps exactly
		// one final newline.
		if len(lines) > 0 && lines[len(lines)-1] == "" {
			body := append(append([]string{}, lines[:len(lines)-1]...), h.new...)
			return append(body, ""), len(body), true
		}
		return append(append([]string{}, lines...), h.new...), len(lines) + len(h.new), true
	}

	idx := indexOfBlock(lines, h.old, from)
	if idx < 0 {
		idx = indexOfBlock(lines, h.old, 0)
	}
	if idx < 0 {
		return lines, from, false
	}

	out := make([]string, 0, len(lines)-len(h.old)+len(h.new))
	out = append(out, lines[:idx]...)
	out = append(out, h.new...)
	out = append(out, lines[idx+len(h.old):]...)
	return out, idx + len(h.new), true
}

func indexOfBlock(lines, block []string, from int) int {
	if from < 0 {
		from = 0
	}
	for i := from; i+len(block) <= len(lines); i++ {
		match := true
		for j := range block {
			if lines[i+j] != block[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

func parse(text string) ([]directive, error) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	begin, end := -1, -1
	for i, ln := range lines {
		if strings.TrimSpace(ln) == beginMarker && begin < 0 {
			begin = i
		}
		if strings.TrimSpace(ln) == endMarker {
			end = i
		}
	}
	if begin < 0 || end < 0 || end <= begin {
		return nil, errors.New("patch must be wrapped in *** Begin Patch / *** End Patch")
	}
	body := lines[begin+1 : end]

	var directives []directive
	i := 0
	for i < len(body) {
		line := body[i]
		switch {
		case strings.HasPrefix(line, addPrefix):
			d := directive{op: "add", path: strings.TrimSpace(line[len(addPrefix):])}
			i++
			start := i
			for i < len(body) && !isDirectiveLine(body[i]) {
				i++
			}
			d.content = trimTrailingEmpty(body[start:i])
			directives = append(directives, d)

		case strings.HasPrefix(line, deletePrefix):
			directives = append(directives, directive{op: "delete", path: strings.TrimSpace(line[len(deletePrefix):])})
			i++

		case strings.HasPrefix(line, updatePrefix):
			d := directive{op: "update", path: strings.TrimSpace(line[len(updatePrefix):])}
			i++
			if i < len(body) && strings.HasPrefix(body[i], movePrefix) {
				d.moveTo = strings.TrimSpace(body[i][len(movePrefix):])
				i++
			}
			start := i
			for i < len(body) && !isDirectiveLine(body[i]) {
				i++
			}
			d.hunks = parseHunks(trimTrailingEmpty(body[start:i]))
			if len(d.hunks) == 0 {
				return nil, fmt.Errorf("update for %s has no hunks", d.path)
			}
			directives = append(directives, d)

		default:
			if strings.TrimSpace(line) == "" {
				i++
				continue
			}
			return nil, fmt.Errorf("unexpected line outside any directive: %q", line)
		}
	}

	if len(directives) == 0 {
		return nil, errors.New("patch contains no directives")
	}
	return directives, nil
}

func isDirectiveLine(ln string) bool {
	return strings.HasPrefix(ln, "*** ")
}

// parseHunks splits an update body into hunks on "@@" markers. Lines missing
// their leading space are treated as context; models drop it constantly.
func parseHunks(lines []string) []hunk {
	var hunks []hunk
	var cur hunk
	flush := func() {
		if len(cur.old) > 0 || len(cur.new) > 0 {
			hunks = append(hunks, cur)
		}
		cur = hunk{}
	}

	for _, ln := range lines {
		switch {
		case strings.HasPrefix(ln, "@@"):
			flush()
		case strings.HasPrefix(ln, "+"):
			cur.new = append(cur.new, ln[1:])
		case strings.HasPrefix(ln, "-"):
			cur.old = append(cur.old, ln[1:])
		case strings.HasPrefix(ln, " "):
			cur.old = append(cur.old, ln[1:])
			cur.new = append(cur.new, ln[1:])
		default:
			cur.old = append(cur.old, ln)
			cur.new = append(cur.new, ln)
		}
	}
	flush()
	return hunks
}

func trimTrailingEmpty(lines []string) []string {
	end := len(lines)
	for end > 0 && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return lines[:end]
}

// Summary renders the per-file outcomes as the tool result.
func Summary(results []Result) string {
	var sb strings.Builder
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(&sb, "❌ %s: %v\n", r.Path, r.Err)
			continue
		}
		switch {
		case r.MovedTo != "":
			fmt.Fprintf(&sb, "✅ Updated %s → %s\n", r.Path, r.MovedTo)
		case r.Op == "add":
			fmt.Fprintf(&sb, "✅ Added %s\n", r.Path)
		case r.Op == "delete":
			fmt.Fprintf(&sb, "✅ Deleted %s\n", r.Path)
		default:
			fmt.Fprintf(&sb, "✅ Updated %s\n", r.Path)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
