package yproto

import (
	"testing"

	"github.com/Polqt/crdtcollab/doc"
	"github.com/Polqt/crdtcollab/wire"
	"github.com/stretchr/testify/require"
)

func TestHandshakeSyncStep1ProducesSyncStep2Reply(t *testing.T) {
	client := doc.NewRGADocument(1, "client")
	server := doc.NewRGADocument(2, "server")
	server.InsertLocal(doc.RGANodeID{}, 'h', nil)

	frame, err := EncodeSyncStep1(client)
	require.NoError(t, err)

	tag, dec, err := wire.DecodeTag(frame)
	require.NoError(t, err)
	require.Equal(t, wire.TagSync, tag)

	reply := wire.NewEncoder(wire.TagSync)
	kind, err := Read(dec, server, "remote", reply, nil)
	require.NoError(t, err)
	require.Equal(t, KindSyncStep1, kind)
	require.True(t, reply.HasPayload())

	_, replyDec, err := wire.DecodeTag(reply.Finish())
	require.NoError(t, err)
	replyReply := wire.NewEncoder(wire.TagSync)
	kind2, err := Read(replyDec, client, server, replyReply, nil)
	require.NoError(t, err)
	require.Equal(t, KindSyncStep2, kind2)
	require.False(t, replyReply.HasPayload(), "syncStep2 never produces its own reply")

	require.Equal(t, server.Text(), client.Text())
}

func TestUpdateAppliesWithoutFlippingSyncedSignal(t *testing.T) {
	a := doc.NewRGADocument(1, "a")
	b := doc.NewRGADocument(2, "b")
	a.InsertLocal(doc.RGANodeID{}, 'x', nil)

	update, err := a.EncodeStateAsUpdate(nil)
	require.NoError(t, err)
	frame := EncodeUpdate(update)

	_, dec, err := wire.DecodeTag(frame)
	require.NoError(t, err)
	reply := wire.NewEncoder(wire.TagSync)
	kind, err := Read(dec, b, "origin", reply, nil)
	require.NoError(t, err)
	require.Equal(t, KindUpdate, kind, "KindUpdate must never be mistaken for KindSyncStep2")
	require.Equal(t, "x", b.Text())
}

func TestReadUnknownSubTagErrors(t *testing.T) {
	e := &wire.Encoder{}
	e.Uvarint(99)
	d := wire.NewDecoder(e.Finish())
	_, err := Read(d, doc.NewRGADocument(1, "a"), nil, nil, nil)
	require.Error(t, err)
}

func TestDocumentApplyErrorIsSwallowed(t *testing.T) {
	d := doc.NewRGADocument(1, "a")
	e := &wire.Encoder{}
	e.Uvarint(SubUpdate)
	e.Bytes([]byte{0xFF}) // malformed update blob
	dec := wire.NewDecoder(e.Finish())

	kind, err := Read(dec, d, nil, nil, nil)
	require.NoError(t, err, "a malformed document update must not surface as a protocol error")
	require.Equal(t, KindUpdate, kind)
}
