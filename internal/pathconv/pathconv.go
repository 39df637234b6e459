// Package pathconv parses and rebuilds storage paths using the separator rules
// of the machine a download client runs on, independent of the local OS.
package pathconv

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownConvention is returned when a base path contains no separator at all.
var ErrUnknownConvention = errors.New("path convention not recognized")

type Convention int

const (
	Posix Convention = iota
	Windows
)

func (c Convention) String() string {
	switch c {
	case Windows:
		return "windows"
	default:
		return "posix"
	}
}

// Detect picks the convention of a configured base path. A backslash wins over
// a forward slash; a path with neither is rejected.
func Detect(base string) (Convention, error) {
	switch {
	case strings.Contains(base, `\`):
		return Windows, nil
	case strings.Contains(base, "/"):
		return Posix, nil
	default:
		return Posix, fmt.Errorf("%w: %q", ErrUnknownConvention, base)
	}
}

// Path is a parsed path. The anchor (root, drive or UNC share) is counted as
// the first part when non-empty.
type Path struct {
	conv   Convention
	anchor string
	segs   []string
}

// Parse splits s according to conv.
func Parse(conv Convention, s string) Path {
	if conv == Windows {
		return parseWindows(s)
	}

	return parsePosix(s)
}

// Convention returns the separator rules the path was parsed with.
func (p Path) Convention() Convention {
	return p.conv
}

// Parts returns the anchor (if any) followed by every segment.
func (p Path) Parts() []string {
	parts := make([]string, 0, len(p.segs)+1)
	if p.anchor != "" {
		parts = append(parts, p.anchor)
	}

	return append(parts, p.segs...)
}

// Len is the number of parts, anchor included.
func (p Path) Len() int {
	if p.anchor != "" {
		return len(p.segs) + 1
	}

	return len(p.segs)
}

// Join appends segments to p, keeping p's convention.
func (p Path) Join(segs ...string) Path {
	joined := make([]string, 0, len(p.segs)+len(segs))
	joined = append(joined, p.segs...)

	for _, s := range segs {
		joined = append(joined, Parse(p.conv, s).segs...)
	}

	return Path{conv: p.conv, anchor: p.anchor, segs: joined}
}

func (p Path) String() string {
	sep := "/"
	if p.conv == Windows {
		sep = `\`
	}

	body := strings.Join(p.segs, sep)

	if p.anchor == "" {
		if body == "" {
			return "."
		}

		return body
	}

	return p.anchor + body
}

// Translate rebuilds task, which lives under srcBase, below dstBase.
// When task and srcBase have the same number of parts the task path is
// returned untouched; otherwise the parts of task beyond srcBase are appended
// to dstBase. The same-depth case does not check that task and srcBase are the
// same location.
func Translate(task, srcBase, dstBase Path) Path {
	if task.Len() == srcBase.Len() {
		return task
	}

	parts := task.Parts()

	var rest []string
	if srcBase.Len() < len(parts) {
		rest = parts[srcBase.Len():]
	}

	out := Path{conv: dstBase.conv, anchor: dstBase.anchor}
	out.segs = append(append(out.segs, dstBase.segs...), rest...)

	return out
}

func parsePosix(s string) Path {
	p := Path{conv: Posix}

	if strings.HasPrefix(s, "/") {
		p.anchor = "/"
	}

	p.segs = splitSegments(s, "/")

	return p
}

func parseWindows(s string) Path {
	p := Path{conv: Windows}
	s = strings.ReplaceAll(s, "/", `\`)

	switch {
	case strings.HasPrefix(s, `\\`) && !strings.HasPrefix(s, `\\\`):
		// UNC: \\server\share\rest
		unc := strings.SplitN(s[2:], `\`, 3)
		if len(unc) >= 2 && unc[0] != "" && unc[1] != "" {
			p.anchor = `\\` + unc[0] + `\` + unc[1] + `\`
			if len(unc) == 3 {
				s = unc[2]
			} else {
				s = ""
			}
		}
	case len(s) >= 2 && s[1] == ':' && isDriveLetter(s[0]):
		p.anchor = s[:2]
		s = s[2:]

		if strings.HasPrefix(s, `\`) {
			p.anchor += `\`
		}
	case strings.HasPrefix(s, `\`):
		p.anchor = `\`
	}

	p.segs = splitSegments(s, `\`)

	return p
}

func splitSegments(s, sep string) []string {
	var segs []string

	for _, seg := range strings.Split(s, sep) {
		if seg == "" || seg == "." {
			continue
		}

		segs = append(segs, seg)
	}

	return segs
}

func isDriveLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}
