package doc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestVClockHappensBefore(t *testing.T) {
	a := VClock{"a": 1, "b": 2}
	b := a.Increment("a")
	require.True(t, a.HappensBefore(b))
	require.False(t, b.HappensBefore(a))
	require.False(t, a.Concurrent(b))

	c := VClock{"a": 1, "c": 1}
	require.True(t, a.Concurrent(c))
}

func TestVClockMerge(t *testing.T) {
	a := VClock{"a": 3, "b": 1}
	b := VClock{"a": 1, "b": 5, "c": 2}
	m := a.Merge(b)
	require.Equal(t, VClock{"a": 3, "b": 5, "c": 2}, m)
}

func TestLWWRegisterTieBreak(t *testing.T) {
	r := &LWWRegister[string]{}
	ts := time.Now()
	r.Set("from-a", ts, "a")
	r.Set("from-b", ts, "b") // same ts, higher nodeID wins
	v, _ := r.Get()
	require.Equal(t, "from-b", v)

	r.Set("older", ts.Add(-time.Second), "z")
	v, _ = r.Get()
	require.Equal(t, "from-b", v, "older timestamp must not override")
}

func TestPNCounter(t *testing.T) {
	c := NewPNCounter()
	c.Increment("a", 5)
	c.Decrement("a", 2)
	require.Equal(t, int64(3), c.Value())

	other := NewPNCounter()
	other.Increment("a", 10)
	c.Merge(other)
	require.Equal(t, int64(8), c.Value())
}

func TestORSetAddRemoveConcurrent(t *testing.T) {
	s := NewORSet()
	tag := s.Add("x", "node1")
	require.True(t, s.Contains("x"))

	other := NewORSet()
	other.Add("x", "node2") // concurrent add from another replica

	s.Remove("x") // local remove observes only the local tag
	require.False(t, s.Contains("x"))

	s.Merge(other)
	require.True(t, s.Contains("x"), "concurrent add must survive a remove that did not observe it")
	require.NotEmpty(t, tag)
}

func TestRGAInsertDeleteText(t *testing.T) {
	r := NewRGA()
	h := r.Insert(RGANodeID{}, 'h', "n1")
	e := r.Insert(h.ID, 'e', "n1")
	r.Insert(e.ID, '!', "n1")
	require.Equal(t, "he!", r.Text())

	r.Delete(e.ID)
	require.Equal(t, "h!", r.Text())
}

func TestRGAConcurrentInsertSamePosition(t *testing.T) {
	r := NewRGA()
	base := r.Insert(RGANodeID{}, 'a', "n1")

	// Two concurrent inserts after base from different nodes must apply in
	// the same total order on every replica.
	opB := RGANode{ID: RGANodeID{Seq: 1, NodeID: "n2"}, InsertAfter: base.ID, Char: 'b'}
	opC := RGANode{ID: RGANodeID{Seq: 1, NodeID: "n3"}, InsertAfter: base.ID, Char: 'c'}

	r2 := NewRGA()
	r2.Apply(RGANode{ID: base.ID, Char: 'a'})
	require.NoError(t, r2.Apply(opC))
	require.NoError(t, r2.Apply(opB))

	require.NoError(t, r.Apply(opB))
	require.NoError(t, r.Apply(opC))

	require.Equal(t, r.Text(), r2.Text(), "apply order must not affect convergence")
}

func TestRGAApplyIdempotent(t *testing.T) {
	r := NewRGA()
	op := RGANode{ID: RGANodeID{Seq: 1, NodeID: "n1"}, Char: 'x'}
	require.NoError(t, r.Apply(op))
	require.NoError(t, r.Apply(op))
	require.Equal(t, "x", r.Text())
}
