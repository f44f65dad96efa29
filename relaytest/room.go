package relaytest

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/Polqt/crdtcollab/doc"
	"github.com/Polqt/crdtcollab/wire"
	"github.com/Polqt/crdtcollab/yproto"
)

// room fans frames out to every member except the sender, the same
// broadcast-except-self shape as session.Document.Broadcast in the
// original server skeleton this package replaces, plus a document of its
// own so it can act as a synchronization partner the way session.Hub.Join
// sent a text snapshot to each new joiner: a lone client still gets a
// syncStep2 reply to its syncStep1, even with no other member to supply
// one.
type room struct {
	mu       sync.RWMutex
	members  map[*client]struct{}
	document doc.Document
}

func newRoom() *room {
	return &room{
		members:  make(map[*client]struct{}),
		document: doc.NewRGADocument(0, "relay"),
	}
}

func (r *room) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

func (r *room) join(conn *websocket.Conn) *client {
	c := &client{conn: conn, room: r, send: make(chan []byte, 32)}
	r.mu.Lock()
	r.members[c] = struct{}{}
	r.mu.Unlock()
	go c.writePump()
	return c
}

func (r *room) leave(c *client) {
	r.mu.Lock()
	delete(r.members, c)
	r.mu.Unlock()
	close(c.send)
}

func (r *room) broadcastExcept(frame []byte, sender *client) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for c := range r.members {
		if c == sender {
			continue
		}
		select {
		case c.send <- frame:
		default:
			slog.Warn("relaytest: dropping frame, slow consumer")
		}
	}
}

// handleFrame is the room's side of the sync handshake (§4.2/§8 Scenario
// A): every sync sub-message is applied to the room's own document, and a
// syncStep1 gets an immediate syncStep2 reply addressed only to the sender,
// the same way a joining session in session.Hub.Join received a snapshot
// of the document's current text. Every frame, sync or not, is still
// rebroadcast to the rest of the room so peers keep converging directly
// with each other too.
func (r *room) handleFrame(frame []byte, sender *client) {
	tag, dec, err := wire.DecodeTag(frame)
	if err != nil {
		slog.Warn("relaytest: truncated frame", "err", err)
		return
	}
	if tag == wire.TagSync {
		reply := wire.NewEncoder(wire.TagSync)
		if _, err := yproto.Read(dec, r.document, r, reply, nil); err != nil {
			slog.Warn("relaytest: truncated sync frame", "err", err)
			return
		}
		if reply.HasPayload() {
			sender.enqueue(reply.Finish())
		}
	}
	r.broadcastExcept(frame, sender)
}

// client wraps one relay connection. Reads happen inline on pump(); writes
// are serialized through a buffered channel and a dedicated writePump
// goroutine, the same split gorilla/websocket requires since Conn is not
// safe for concurrent writers.
type client struct {
	conn *websocket.Conn
	room *room
	send chan []byte
}

func (c *client) enqueue(frame []byte) {
	select {
	case c.send <- frame:
	default:
		slog.Warn("relaytest: dropping reply, slow consumer")
	}
}

func (c *client) pump() {
	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.room.handleFrame(frame, c)
	}
}

func (c *client) writePump() {
	for frame := range c.send {
		if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = c.conn.Close()
}
