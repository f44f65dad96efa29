package doc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRGADocumentStateVectorRoundTrip(t *testing.T) {
	a := NewRGADocument(1, "a")
	b := NewRGADocument(2, "b")

	a.InsertLocal(RGANodeID{}, 'h', nil)
	a.InsertLocal(RGANodeID{}, 'i', nil)

	bsv, err := b.EncodeStateVector()
	require.NoError(t, err)

	update, err := a.EncodeStateAsUpdate(bsv)
	require.NoError(t, err)
	require.NoError(t, b.ApplyUpdate(update, "remote"))

	require.ElementsMatch(t, []rune(a.Text()), []rune(b.Text()))
}

func TestRGADocumentUpdateListenerReceivesLocalEdits(t *testing.T) {
	a := NewRGADocument(1, "a")
	var got []byte
	var gotOrigin any
	a.OnUpdate(func(update []byte, origin any) {
		got = update
		gotOrigin = origin
	})

	a.InsertLocal(RGANodeID{}, 'x', "local-origin")
	require.NotEmpty(t, got)
	require.Equal(t, "local-origin", gotOrigin)
}

func TestRGADocumentDestroyIdempotent(t *testing.T) {
	d := NewRGADocument(1, "a")
	calls := 0
	d.OnDestroy(func() { calls++ })
	d.Destroy()
	d.Destroy()
	require.Equal(t, 1, calls)
}

func TestRGADocumentApplyUpdateErrorDoesNotPanic(t *testing.T) {
	d := NewRGADocument(1, "a")
	err := d.ApplyUpdate([]byte{0xFF}, nil)
	require.Error(t, err)
}
