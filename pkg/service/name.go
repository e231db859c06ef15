package service

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

const nameDelimiter = '.'

// ServiceName is an immutable hierarchical identifier made of one or more
// non-empty, case-sensitive segments. Two names are equal (==) iff they have
// the same segment sequence, so ServiceName is usable as a map key.
//
// The zero ServiceName is invalid and never names a service.
type ServiceName struct {
	canonical string
}

// Of builds a name from its segments.
func Of(segments ...string) (ServiceName, error) {
	if len(segments) == 0 {
		return ServiceName{}, ErrInvalidName
	}
	var b strings.Builder
	for i, seg := range segments {
		if seg == "" {
			return ServiceName{}, ErrInvalidName
		}
		if i > 0 {
			b.WriteByte(nameDelimiter)
		}
		writeSegment(&b, seg)
	}
	return ServiceName{canonical: b.String()}, nil
}

// MustOf is like Of but panics on an invalid name. Intended for literals.
func MustOf(segments ...string) ServiceName {
	n, err := Of(segments...)
	if err != nil {
		panic(err)
	}
	return n
}

// Parse reads a name in canonical form, as produced by String.
func Parse(s string) (ServiceName, error) {
	segs, err := splitCanonical(s)
	if err != nil {
		return ServiceName{}, err
	}
	return Of(segs...)
}

// MustParse is like Parse but panics on error.
func MustParse(s string) ServiceName {
	n, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return n
}

func needsQuoting(seg string) bool {
	for _, r := range seg {
		if r == nameDelimiter || r == '"' || r == '\\' || r == utf8.RuneError || !unicode.IsPrint(r) {
			return true
		}
	}
	return false
}

func writeSegment(b *strings.Builder, seg string) {
	if needsQuoting(seg) {
		b.WriteString(strconv.Quote(seg))
		return
	}
	b.WriteString(seg)
}

func splitCanonical(s string) ([]string, error) {
	if s == "" {
		return nil, ErrInvalidName
	}
	var segs []string
	for {
		var seg string
		if s != "" && s[0] == '"' {
			quoted, err := strconv.QuotedPrefix(s)
			if err != nil {
				return nil, ErrInvalidName
			}
			seg, err = strconv.Unquote(quoted)
			if err != nil {
				return nil, ErrInvalidName
			}
			s = s[len(quoted):]
		} else {
			i := strings.IndexByte(s, nameDelimiter)
			if i < 0 {
				i = len(s)
			}
			seg, s = s[:i], s[i:]
		}
		if seg == "" {
			return nil, ErrInvalidName
		}
		segs = append(segs, seg)
		if s == "" {
			return segs, nil
		}
		if s[0] != nameDelimiter {
			return nil, ErrInvalidName
		}
		s = s[1:]
		if s == "" {
			return nil, ErrInvalidName
		}
	}
}

// Segments returns a copy of the name's segments.
func (n ServiceName) Segments() []string {
	if n.canonical == "" {
		return nil
	}
	segs, err := splitCanonical(n.canonical)
	if err != nil {
		// canonical is always produced by Of
		panic("service: corrupt name " + strconv.Quote(n.canonical))
	}
	return segs
}

// Append returns a new name with the given segments added as children.
func (n ServiceName) Append(segments ...string) (ServiceName, error) {
	return Of(append(n.Segments(), segments...)...)
}

// AppendName returns a new name with all of other's segments added.
func (n ServiceName) AppendName(other ServiceName) ServiceName {
	if n.IsZero() {
		return other
	}
	if other.IsZero() {
		return n
	}
	return ServiceName{canonical: n.canonical + string(nameDelimiter) + other.canonical}
}

// Parent returns the name without its last segment. ok is false for a
// single-segment name.
func (n ServiceName) Parent() (parent ServiceName, ok bool) {
	segs := n.Segments()
	if len(segs) < 2 {
		return ServiceName{}, false
	}
	return MustOf(segs[:len(segs)-1]...), true
}

// SimpleName returns the last segment.
func (n ServiceName) SimpleName() string {
	segs := n.Segments()
	if len(segs) == 0 {
		return ""
	}
	return segs[len(segs)-1]
}

// IsParentOf reports whether n is a strict ancestor of other.
func (n ServiceName) IsParentOf(other ServiceName) bool {
	a, b := n.Segments(), other.Segments()
	if len(a) == 0 || len(a) >= len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Compare orders names segment by segment, then by length. It returns -1, 0
// or +1.
func (n ServiceName) Compare(other ServiceName) int {
	if n.canonical == other.canonical {
		return 0
	}
	a, b := n.Segments(), other.Segments()
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := strings.Compare(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

// IsZero reports whether n is the zero (invalid) name.
func (n ServiceName) IsZero() bool { return n.canonical == "" }

// String returns the canonical form.
func (n ServiceName) String() string { return n.canonical }

// MarshalText implements encoding.TextMarshaler.
func (n ServiceName) MarshalText() ([]byte, error) {
	return []byte(n.canonical), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (n *ServiceName) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}
