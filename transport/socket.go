package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Socket is the minimal byte-stream connection the Manager drives. The
// production implementation wraps gorilla/websocket; tests inject an
// in-process fake or dial against the relaytest fixture.
type Socket interface {
	// Send writes one frame. Implementations must serialize concurrent
	// callers internally.
	Send(frame []byte) error
	// Recv blocks for the next frame, returning an error (including
	// io.EOF-equivalent close errors) when the connection ends.
	Recv() ([]byte, error)
	Close() error
}

// Dialer opens a Socket to url. Swappable per §6's `socket_factory` config
// key so callers can inject an alternative transport implementation.
type Dialer interface {
	Dial(ctx context.Context, url string) (Socket, error)
}

// WSDialer dials real WebSocket connections with gorilla/websocket.
type WSDialer struct {
	// Header is sent with the upgrade request, e.g. for bearer tokens.
	Header http.Header
	// HandshakeTimeout bounds the dial; zero uses the gorilla default.
	HandshakeTimeout time.Duration
}

func (d *WSDialer) Dial(ctx context.Context, url string) (Socket, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: d.HandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		return nil, err
	}
	return &wsSocket{conn: conn}, nil
}

// wsSocket adapts a *websocket.Conn to the Socket interface. Frames are
// carried as binary messages: the wire format is already self-describing
// and has no use for the text/binary distinction.
type wsSocket struct {
	conn *websocket.Conn
	mu   sync.Mutex // serializes writers; gorilla's Conn allows one at a time
}

func (s *wsSocket) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (s *wsSocket) Recv() ([]byte, error) {
	_, data, err := s.conn.ReadMessage()
	return data, err
}

func (s *wsSocket) Close() error {
	// WriteControl may run concurrently with a Send in progress.
	_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return s.conn.Close()
}
