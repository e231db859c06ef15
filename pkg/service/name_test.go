package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestNameOf(t *testing.T) {
	n, err := Of("jboss", "web", "connector")
	require.NoError(t, err)
	assert.Equal(t, "jboss.web.connector", n.String())
	assert.Equal(t, []string{"jboss", "web", "connector"}, n.Segments())
	assert.Equal(t, "connector", n.SimpleName())
}

func TestNameInvalid(t *testing.T) {
	_, err := Of()
	assert.ErrorIs(t, err, ErrInvalidName)
	_, err = Of("a", "")
	assert.ErrorIs(t, err, ErrInvalidName)

	for _, s := range []string{"", ".", "a.", ".a", "a..b", `"unterminated`, `"a"b`, `""`} {
		_, err := Parse(s)
		assert.ErrorIs(t, err, ErrInvalidName, "%q", s)
	}
	assert.True(t, ServiceName{}.IsZero())
}

func TestNameQuotedSegments(t *testing.T) {
	n := MustOf("db", "host.example.com", `say "hi"`)
	assert.Equal(t, `db."host.example.com"."say \"hi\""`, n.String())

	parsed, err := Parse(n.String())
	require.NoError(t, err)
	assert.Equal(t, n, parsed)
	assert.Equal(t, []string{"db", "host.example.com", `say "hi"`}, parsed.Segments())
}

func TestNameEqualityIsStructural(t *testing.T) {
	a := MustOf("a", "b")
	b := MustParse("a.b")
	assert.True(t, a == b)
	assert.NotEqual(t, MustOf("a", "B"), a, "names are case sensitive")

	m := map[ServiceName]int{a: 1}
	assert.Equal(t, 1, m[b])
}

func TestNameAppendAndParent(t *testing.T) {
	base := MustOf("app")
	child, err := base.Append("db", "pool")
	require.NoError(t, err)
	assert.Equal(t, "app.db.pool", child.String())
	assert.Equal(t, child, base.AppendName(MustOf("db", "pool")))

	parent, ok := child.Parent()
	require.True(t, ok)
	assert.Equal(t, "app.db", parent.String())

	_, ok = base.Parent()
	assert.False(t, ok)

	assert.True(t, base.IsParentOf(child))
	assert.False(t, child.IsParentOf(base))
	assert.False(t, base.IsParentOf(base))

	_, err = base.Append("")
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestNameCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"a", "a", 0},
		{"a", "b", -1},
		{"a.b", "a", 1},
		{"a", "a.b", -1},
		{"a.z", "b", -1},
		{"B", "a", -1},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, MustParse(tc.a).Compare(MustParse(tc.b)), "%s vs %s", tc.a, tc.b)
	}
}

func TestNameTextRoundTrip(t *testing.T) {
	var n ServiceName
	require.NoError(t, n.UnmarshalText([]byte(`x."y.z"`)))
	text, err := n.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, `x."y.z"`, string(text))
	assert.Error(t, n.UnmarshalText([]byte("x..y")))
}

func segmentsGen() *rapid.Generator[[]string] {
	seg := rapid.OneOf(
		rapid.StringMatching(`[a-z0-9_-]{1,6}`),
		rapid.StringN(1, 6, -1),
	)
	return rapid.SliceOfN(seg, 1, 5)
}

func TestNameParseStringProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		segs := segmentsGen().Draw(rt, "segments")
		n, err := Of(segs...)
		if err != nil {
			rt.Fatalf("Of(%q): %v", segs, err)
		}
		parsed, err := Parse(n.String())
		if err != nil {
			rt.Fatalf("Parse(%q): %v", n.String(), err)
		}
		if parsed != n {
			rt.Fatalf("round trip changed %q into %q", n, parsed)
		}
		got := parsed.Segments()
		if len(got) != len(segs) {
			rt.Fatalf("segments %q became %q", segs, got)
		}
		for i := range segs {
			if got[i] != segs[i] {
				rt.Fatalf("segments %q became %q", segs, got)
			}
		}
	})
}

func TestNameCompareIsTotalOrderProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		a := MustOf(segmentsGen().Draw(rt, "a")...)
		b := MustOf(segmentsGen().Draw(rt, "b")...)
		if a.Compare(b) != -b.Compare(a) {
			rt.Fatalf("Compare not antisymmetric for %q and %q", a, b)
		}
		if (a.Compare(b) == 0) != (a == b) {
			rt.Fatalf("Compare and equality disagree for %q and %q", a, b)
		}
	})
}
