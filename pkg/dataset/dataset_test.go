package dataset

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBasics(t *testing.T) {
	d := New("a", "b")
	assert.Equal(t, 2, d.NumColumns())
	assert.Equal(t, 0, d.NumRows())
	assert.True(t, d.HasColumn("a"))
	assert.False(t, d.HasColumn("c"))

	d.Append(Row{"a": int64(1), "b": "x"})
	d.Append(Row{"a": int64(2)})
	assert.Equal(t, 2, d.NumRows())
	assert.Equal(t, "x", d.Value(0, "b"))
	assert.Nil(t, d.Value(1, "b"))
	assert.Nil(t, d.Value(5, "a"))
	assert.Nil(t, d.Value(-1, "a"))
}

func TestCloneIsDeep(t *testing.T) {
	d := New("a")
	d.Append(Row{"a": int64(1)})

	c := d.Clone()
	c.Rows[0]["a"] = int64(99)
	c.Columns[0] = "z"

	assert.Equal(t, int64(1), d.Value(0, "a"))
	assert.Equal(t, "a", d.Columns[0])
}

func TestEqual(t *testing.T) {
	a := New("x", "y")
	a.Append(Row{"x": int64(1), "y": nil})

	b := New("x", "y")
	b.Append(Row{"x": 1.0, "y": nil})
	// Numerics compare by value across int64/float64.
	assert.True(t, a.Equal(b))

	b.Rows[0]["x"] = 1.5
	assert.False(t, a.Equal(b))

	c := New("y", "x")
	c.Append(Row{"x": int64(1), "y": nil})
	// Column order matters.
	assert.False(t, a.Equal(c))

	assert.False(t, a.Equal(nil))
	assert.False(t, a.Equal(New("x", "y")))
}

func TestEqualTimes(t *testing.T) {
	ts := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	a := New("t")
	a.Append(Row{"t": ts})
	b := New("t")
	b.Append(Row{"t": ts.In(time.FixedZone("X", 3600))})
	assert.True(t, a.Equal(b))
}

func TestAsFloat(t *testing.T) {
	for _, v := range []any{int(3), int64(3), float64(3), float32(3)} {
		f, ok := AsFloat(v)
		assert.True(t, ok)
		assert.Equal(t, 3.0, f)
	}
	for _, v := range []any{"3", true, nil} {
		_, ok := AsFloat(v)
		assert.False(t, ok)
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b any
		want int
		ok   bool
	}{
		{int64(1), 2.0, -1, true},
		{3.5, int64(3), 1, true},
		{int64(2), 2.0, 0, true},
		{"apple", "banana", -1, true},
		{time.Unix(10, 0), time.Unix(20, 0), -1, true},
		{nil, int64(1), 0, false},
		{int64(1), nil, 0, false},
	}
	for _, tt := range tests {
		got, ok := Compare(tt.a, tt.b)
		assert.Equal(t, tt.ok, ok, "%v vs %v", tt.a, tt.b)
		if ok {
			assert.Equal(t, tt.want, got, "%v vs %v", tt.a, tt.b)
		}
	}
}

func TestFormat(t *testing.T) {
	ts := time.Date(2024, 3, 9, 12, 30, 0, 0, time.UTC)
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"plain", "plain"},
		{int64(42), "42"},
		{2.5, "2.5"},
		{1000000.0, "1e+06"},
		{true, "true"},
		{ts, "2024-03-09T12:30:00Z"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Format(tt.in))
	}
}
