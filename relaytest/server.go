// Package relaytest provides an in-process stand-in for the collaboration
// relay server. It is test-only infrastructure: server-side logic is a
// non-goal of this module, but the Transport Manager and Provider need a
// real socket peer to exercise handshake, broadcast and reconnect behavior
// against. The relay is minimal but not dumb: each room answers the sync
// handshake directly (so a lone client still converges) and rebroadcasts
// every frame to the rest of the room, mirroring the minimal behavior of
// the real y-websocket relay server.
package relaytest

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/Polqt/crdtcollab/authproto"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Server is a minimal multi-room broadcast relay, adapted from the
// session.Hub pattern: a registry of rooms, each holding its own document
// to sync joiners against and fanning incoming frames out to every other
// member.
type Server struct {
	mu       sync.Mutex
	rooms    map[string]*room
	denied   map[string]string
	upgrades int
}

// NewServer creates an empty relay.
func NewServer() *Server {
	return &Server{rooms: make(map[string]*room), denied: make(map[string]string)}
}

// Start wraps the Server in an httptest.Server listening on 127.0.0.1,
// returning it ready to use; the caller must call Close().
func (s *Server) Start() *httptest.Server {
	return httptest.NewServer(s)
}

// DenyRoom arranges for the next client that joins room to receive an auth
// permission-denied frame carrying reason, then be disconnected, simulating
// §7's "permission-denied auth frames" error path.
func (s *Server) DenyRoom(room, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.denied[room] = reason
}

func (s *Server) getOrCreateRoom(name string) *room {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rooms[name]
	if !ok {
		r = newRoom()
		s.rooms[name] = r
	}
	return r
}

// RoomSize reports how many connections are currently joined to room.
// Exposed for tests asserting relay-level fan-out behavior.
func (s *Server) RoomSize(name string) int {
	s.mu.Lock()
	r, ok := s.rooms[name]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	return r.size()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomName := strings.TrimPrefix(r.URL.Path, "/")

	s.mu.Lock()
	s.upgrades++
	reason, deny := s.denied[roomName]
	if deny {
		delete(s.denied, roomName)
	}
	s.mu.Unlock()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("relaytest: upgrade failed", "err", err)
		return
	}

	if deny {
		_ = conn.WriteMessage(websocket.BinaryMessage, authproto.EncodePermissionDenied(reason))
		_ = conn.Close()
		return
	}

	rm := s.getOrCreateRoom(roomName)
	c := rm.join(conn)
	defer rm.leave(c)
	c.pump()
}
