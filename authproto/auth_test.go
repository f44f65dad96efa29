package authproto

import (
	"testing"

	"github.com/Polqt/crdtcollab/wire"
	"github.com/stretchr/testify/require"
)

func TestPermissionDeniedRoundTrip(t *testing.T) {
	frame := EncodePermissionDenied("room is full")
	tag, dec, err := wire.DecodeTag(frame)
	require.NoError(t, err)
	require.Equal(t, wire.TagAuth, tag)

	pd, err := Read(dec)
	require.NoError(t, err)
	require.Equal(t, "room is full", pd.Reason)
}

func TestUnknownAuthSubTagErrors(t *testing.T) {
	e := &wire.Encoder{}
	e.Uvarint(77)
	_, err := Read(wire.NewDecoder(e.Finish()))
	require.Error(t, err)
}
