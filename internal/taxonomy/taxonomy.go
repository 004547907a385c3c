// Package taxonomy defines the dot-delimited hierarchical domain code used
// to classify corpus words. Codes carry one to four segments, one per depth
// level (N1 broadest through N4 most specific), e.g. "SH", "SH.02",
// "SH.02.01". Parent/child validity across the taxonomy store is the
// taxonomy manager's concern; this package only enforces the code shape.
package taxonomy

import (
	"fmt"
	"strings"
)

// Code is a validated taxonomy identifier with 1-4 dot-delimited segments.
type Code string

// MaxDepth is the deepest level a code may carry.
const MaxDepth = 4

// NC is the sentinel assigned when no tier can classify a word.
const NC Code = "NC"

// Parse validates and canonicalizes a taxonomy code. Segments are uppercase
// alphanumeric, one to four characters each.
func Parse(value string) (Code, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(value))
	if trimmed == "" {
		return "", fmt.Errorf("taxonomy code: empty")
	}
	segments := strings.Split(trimmed, ".")
	if len(segments) > MaxDepth {
		return "", fmt.Errorf("taxonomy code %q: more than %d levels", value, MaxDepth)
	}
	for _, segment := range segments {
		if segment == "" {
			return "", fmt.Errorf("taxonomy code %q: empty segment", value)
		}
		if len(segment) > 4 {
			return "", fmt.Errorf("taxonomy code %q: segment %q too long", value, segment)
		}
		for _, r := range segment {
			if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
				return "", fmt.Errorf("taxonomy code %q: invalid character %q", value, r)
			}
		}
	}
	return Code(strings.Join(segments, ".")), nil
}

// MustParse is Parse for static code literals; it panics on invalid input.
func MustParse(value string) Code {
	code, err := Parse(value)
	if err != nil {
		panic(err)
	}
	return code
}

// Depth returns the number of levels the code carries (0 for an empty code).
func (c Code) Depth() int {
	if c == "" {
		return 0
	}
	return strings.Count(string(c), ".") + 1
}

// Parent returns the code one level up, or "" for a top-level code.
func (c Code) Parent() Code {
	idx := strings.LastIndex(string(c), ".")
	if idx < 0 {
		return ""
	}
	return c[:idx]
}

// Level returns the segment at the 1-based depth level n, or "" when the
// code is shallower than n.
func (c Code) Level(n int) string {
	if n < 1 || n > MaxDepth {
		return ""
	}
	segments := strings.Split(string(c), ".")
	if n > len(segments) {
		return ""
	}
	return segments[n-1]
}

// IsNC reports whether the code is the unclassified sentinel.
func (c Code) IsNC() bool {
	return c == NC
}

// IsZero reports whether the code is empty.
func (c Code) IsZero() bool {
	return c == ""
}

func (c Code) String() string {
	return string(c)
}
