package relaytest

import (
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Polqt/crdtcollab/authproto"
	"github.com/Polqt/crdtcollab/wire"
)

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestBroadcastsToOtherRoomMembersOnly(t *testing.T) {
	srv := NewServer()
	httpSrv := srv.Start()
	defer httpSrv.Close()
	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/room-a"

	a := dial(t, wsURL)
	b := dial(t, wsURL)
	c := dial(t, "ws"+strings.TrimPrefix(httpSrv.URL, "http")+"/room-b")

	require.Eventually(t, func() bool { return srv.RoomSize("room-a") == 2 }, time.Second, time.Millisecond)

	require.NoError(t, a.WriteMessage(websocket.BinaryMessage, []byte("hello")))

	b.SetReadDeadline(time.Now().Add(time.Second))
	_, data, err := b.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)

	c.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	_, _, err = c.ReadMessage()
	require.Error(t, err, "room-b member must not see room-a traffic")
}

func TestDenyRoomSendsPermissionDeniedAndCloses(t *testing.T) {
	srv := NewServer()
	httpSrv := srv.Start()
	defer httpSrv.Close()
	srv.DenyRoom("locked", "room is full")

	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/locked"
	conn := dial(t, wsURL)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)

	tag, dec, err := wire.DecodeTag(frame)
	require.NoError(t, err)
	require.Equal(t, wire.TagAuth, tag)
	pd, err := authproto.Read(dec)
	require.NoError(t, err)
	require.Equal(t, "room is full", pd.Reason)

	_, _, err = conn.ReadMessage()
	require.Error(t, err, "connection must close after permission-denied")
}

func TestDenyRoomIsOneShot(t *testing.T) {
	srv := NewServer()
	httpSrv := srv.Start()
	defer httpSrv.Close()
	srv.DenyRoom("locked", "full")
	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/locked"

	first := dial(t, wsURL)
	first.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := first.ReadMessage()
	require.NoError(t, err)

	require.Eventually(t, func() bool { return srv.RoomSize("locked") == 0 }, time.Second, time.Millisecond)
	second := dial(t, wsURL)
	require.Eventually(t, func() bool { return srv.RoomSize("locked") == 1 }, time.Second, time.Millisecond)
	_ = second
}
