package diffapply

import (
	"fmt"
	"strconv"
	"strings"
)

// applyPatch applies a unified diff to content. File headers (---/+++) and
// index lines are tolerated and skipped; only @@ hunks drive the edit.
func applyPatch(content, patch string) (string, error) {
	hunks, err := parseHunks(patch)
	if err != nil {
		return "", err
	}
	if len(hunks) == 0 {
		return "", fmt.Errorf("patch contains no hunks")
	}

	orig := splitLines(content)
	var out []string
	cursor := 0 // next unconsumed index into orig

	for _, h := range hunks {
		// Hunk start is 1-based; 0 means insertion into an empty file.
		start := h.oldStart - 1
		if h.oldCount == 0 {
			start = h.oldStart
		}
		if start < cursor || start > len(orig) {
			return "", fmt.Errorf("hunk @@ -%d,%d does not fit the file", h.oldStart, h.oldCount)
		}

		out = append(out, orig[cursor:start]...)
		cursor = start

		for _, line := range h.lines {
			switch line.op {
			case ' ':
				if cursor >= len(orig) || orig[cursor] != line.text {
					return "", fmt.Errorf("context mismatch at line %d", cursor+1)
				}
				out = append(out, orig[cursor])
				cursor++
			case '-':
				if cursor >= len(orig) || orig[cursor] != line.text {
					return "", fmt.Errorf("deletion mismatch at line %d", cursor+1)
				}
				cursor++
			case '+':
				out = append(out, line.text)
			}
		}
	}

	out = append(out, orig[cursor:]...)
	return strings.Join(out, ""), nil
}

type hunkLine struct {
	op   byte
	text string
}

type hunk struct {
	oldStart int
	oldCount int
	lines    []hunkLine
}

func parseHunks(patch string) ([]hunk, error) {
	var hunks []hunk
	var current *hunk

	lines := strings.SplitAfter(patch, "\n")
	for _, raw := range lines {
		if raw == "" {
			continue
		}
		switch {
		case strings.HasPrefix(raw, "@@"):
			oldStart, oldCount, err := parseHunkHeader(strings.TrimRight(raw, "\n"))
			if err != nil {
				return nil, err
			}
			hunks = append(hunks, hunk{oldStart: oldStart, oldCount: oldCount})
			current = &hunks[len(hunks)-1]
		case strings.HasPrefix(raw, "--- ") || strings.HasPrefix(raw, "+++ ") ||
			strings.HasPrefix(raw, "diff ") || strings.HasPrefix(raw, "index "):
			// File-level headers carry no edit information.
		case strings.HasPrefix(raw, `\ No newline`):
			if current == nil || len(current.lines) == 0 {
				return nil, fmt.Errorf("dangling no-newline marker")
			}
			last := &current.lines[len(current.lines)-1]
			last.text = strings.TrimSuffix(last.text, "\n")
		case raw[0] == ' ' || raw[0] == '-' || raw[0] == '+':
			if current == nil {
				return nil, fmt.Errorf("patch line outside hunk: %q", strings.TrimRight(raw, "\n"))
			}
			current.lines = append(current.lines, hunkLine{op: raw[0], text: raw[1:]})
		case raw == "\n":
			// A bare newline inside a hunk is a context line for an empty line.
			if current != nil {
				current.lines = append(current.lines, hunkLine{op: ' ', text: "\n"})
			}
		default:
			return nil, fmt.Errorf("unrecognized patch line: %q", strings.TrimRight(raw, "\n"))
		}
	}
	return hunks, nil
}

// parseHunkHeader reads "@@ -l[,c] +l[,c] @@" and returns the old range.
func parseHunkHeader(header string) (start, count int, err error) {
	fields := strings.Fields(header)
	if len(fields) < 3 || fields[0] != "@@" {
		return 0, 0, fmt.Errorf("malformed hunk header: %q", header)
	}
	oldRange := strings.TrimPrefix(fields[1], "-")
	start, count = 1, 1
	if idx := strings.IndexByte(oldRange, ','); idx >= 0 {
		if start, err = strconv.Atoi(oldRange[:idx]); err != nil {
			return 0, 0, fmt.Errorf("malformed hunk header: %q", header)
		}
		if count, err = strconv.Atoi(oldRange[idx+1:]); err != nil {
			return 0, 0, fmt.Errorf("malformed hunk header: %q", header)
		}
	} else if start, err = strconv.Atoi(oldRange); err != nil {
		return 0, 0, fmt.Errorf("malformed hunk header: %q", header)
	}
	return start, count, nil
}

// splitLines splits content keeping each line's trailing newline, so that
// joining the result reproduces the input byte for byte.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.SplitAfter(content, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
