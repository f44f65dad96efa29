package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	e := NewEncoder(TagAwareness)
	e.Uvarint(42)
	e.Bytes([]byte{1, 2, 3})
	e.String("hello")
	frame := e.Finish()

	tag, d, err := DecodeTag(frame)
	require.NoError(t, err)
	require.Equal(t, TagAwareness, tag)

	n, err := d.Uvarint()
	require.NoError(t, err)
	require.Equal(t, uint64(42), n)

	b, err := d.Bytes()
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, b)

	s, err := d.String()
	require.NoError(t, err)
	require.Equal(t, "hello", s)

	require.Equal(t, 0, d.Remaining())
}

func TestDecodeTruncated(t *testing.T) {
	e := NewEncoder(TagSync)
	e.Uvarint(5)
	frame := e.Finish()
	frame = frame[:len(frame)-1] // drop the trailing byte, so the length prefix Bytes reads below is missing

	_, d, err := DecodeTag(frame)
	require.NoError(t, err)
	_, err = d.Bytes()
	require.ErrorIs(t, err, ErrTruncated)
}

func TestUnknownTag(t *testing.T) {
	e := &Encoder{}
	e.Uvarint(99)
	_, _, err := DecodeTag(e.Finish())
	require.NoError(t, err) // DecodeTag itself never rejects; callers classify unknown tags.
}

func TestHasPayload(t *testing.T) {
	e := NewEncoder(TagQueryAwareness)
	require.False(t, e.HasPayload())
	e.Uvarint(1)
	require.True(t, e.HasPayload())
}
