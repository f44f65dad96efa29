package provider

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Polqt/crdtcollab/authproto"
	"github.com/Polqt/crdtcollab/awareness"
	"github.com/Polqt/crdtcollab/doc"
	"github.com/Polqt/crdtcollab/localbus"
	"github.com/Polqt/crdtcollab/transport"
	"github.com/Polqt/crdtcollab/wire"
	"github.com/Polqt/crdtcollab/yproto"
)

// Provider is a single long-lived object bound to one document, one room
// name and one server endpoint (§2). It is safe for concurrent use: all
// mutation funnels through the Transport Manager's single reader goroutine
// and the methods below, which take the internal lock.
type Provider struct {
	doc       doc.Document
	awareness *awareness.Awareness
	tm        *transport.Manager
	bus       *localbus.Bus
	busOrigin localbus.Origin
	channel   string
	logger    *slog.Logger

	enableBroadcast bool
	resyncInterval  time.Duration

	mu         sync.Mutex
	busSub     *localbus.Subscription
	synced     bool
	destroyed  bool
	resyncStop chan struct{}
	resyncWg   sync.WaitGroup

	cbMu         sync.RWMutex
	onStatus     []func(transport.State)
	onSync       []func(bool)
	onSynced     []func(bool)
	onConnErr    []func(error)
	onConnClose  []func()
	onPermDenied []func(string)
}

// New constructs a Provider bound to serverURL/room. The document and
// awareness engine are supplied by the caller (they outlive or are owned
// by this Provider per the caller's choice; Destroy turns this Provider's
// listeners on them into no-ops, it never calls document.Destroy()).
func New(serverURL, room string, document doc.Document, aw *awareness.Awareness, cfg Config) (*Provider, error) {
	endpoint, err := buildURL(serverURL, room, cfg.Params)
	if err != nil {
		return nil, fmt.Errorf("provider: build url: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &transport.WSDialer{}
	}

	p := &Provider{
		doc:             document,
		awareness:       aw,
		bus:             cfg.Bus,
		busOrigin:       localbus.NewOrigin(),
		channel:         strings.TrimRight(serverURL, "/") + "/" + room,
		logger:          logger,
		enableBroadcast: cfg.EnableBroadcast && cfg.Bus != nil,
		resyncInterval:  cfg.ResyncInterval,
	}

	p.tm = transport.NewManager(dialer, endpoint, cfg.MaxBackoffTime, logger)
	p.tm.OnOpen(p.handleTransportOpen)
	p.tm.OnMessage(func(frame []byte) { p.handleFrame(frame, true) })
	p.tm.OnClose(p.handleTransportClose)
	p.tm.OnError(p.handleTransportError)
	p.tm.OnStatus(p.handleTransportStatus)

	document.OnUpdate(p.handleDocUpdate)
	aw.OnUpdate(p.handleAwarenessUpdate)

	if cfg.ConnectOnLaunch {
		p.Connect()
	}
	return p, nil
}

func buildURL(serverURL, room string, params map[string]string) (string, error) {
	base := strings.TrimRight(serverURL, "/") + "/" + room
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if len(params) > 0 {
		q := u.Query()
		for k, v := range params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Connect opens the transport (if not already should_connect) and, when
// broadcast is enabled, joins the local bus.
func (p *Provider) Connect() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	p.tm.Connect()
	p.connectBroadcast()
	p.startResyncTimer()
}

// Disconnect tears down the local-bus subscription and closes the socket.
// No further reconnects are scheduled (§4.4).
func (p *Provider) Disconnect() {
	p.disconnectBroadcast()
	p.stopResyncTimer()
	p.tm.Disconnect()
}

// Destroy is the only cancellation primitive (§5). It stops both timers,
// disconnects, and makes this Provider's document/awareness listeners
// no-ops (they stay registered; see isDestroyed). Safe to call more than
// once; a no-op after the first call.
func (p *Provider) Destroy() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	p.mu.Unlock()

	p.Disconnect()
	p.tm.Destroy()
}

// Synced reports whether the initial sync-step-2 handshake has completed.
func (p *Provider) Synced() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.synced
}

// isDestroyed reports whether Destroy has been called. Handlers reached
// from goroutines the Provider doesn't directly own (document/awareness
// listeners, in-flight bus deliveries) check this to stay a safe no-op
// against a destroyed Provider, since those collaborators have no listener
// detachment API (§5 "In-flight callbacks already scheduled must be safe
// no-ops against a destroyed Provider").
func (p *Provider) isDestroyed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.destroyed
}

func (p *Provider) OnStatus(fn func(transport.State)) {
	p.cbMu.Lock()
	p.onStatus = append(p.onStatus, fn)
	p.cbMu.Unlock()
}

func (p *Provider) OnSync(fn func(bool)) {
	p.cbMu.Lock()
	p.onSync = append(p.onSync, fn)
	p.cbMu.Unlock()
}

func (p *Provider) OnSynced(fn func(bool)) {
	p.cbMu.Lock()
	p.onSynced = append(p.onSynced, fn)
	p.cbMu.Unlock()
}

func (p *Provider) OnConnectionError(fn func(error)) {
	p.cbMu.Lock()
	p.onConnErr = append(p.onConnErr, fn)
	p.cbMu.Unlock()
}

func (p *Provider) OnConnectionClose(fn func()) {
	p.cbMu.Lock()
	p.onConnClose = append(p.onConnClose, fn)
	p.cbMu.Unlock()
}

func (p *Provider) OnPermissionDenied(fn func(reason string)) {
	p.cbMu.Lock()
	p.onPermDenied = append(p.onPermDenied, fn)
	p.cbMu.Unlock()
}

// --- transport lifecycle callbacks ---

func (p *Provider) handleTransportStatus(s transport.State) {
	p.cbMu.RLock()
	fns := append([]func(transport.State){}, p.onStatus...)
	p.cbMu.RUnlock()
	for _, fn := range fns {
		fn(s)
	}
}

func (p *Provider) handleTransportOpen() {
	p.mu.Lock()
	p.synced = false
	p.mu.Unlock()
	p.fireSync(false)

	frame, err := yproto.EncodeSyncStep1(p.doc)
	if err != nil {
		p.logger.Warn("provider: encode syncStep1 on open", "err", err)
		return
	}
	if err := p.tm.Send(frame); err != nil {
		return
	}
	if local := p.awareness.LocalState(); local != nil {
		p.sendAwarenessFrame([]uint32{p.awareness.ClientID()}, true)
	}
}

func (p *Provider) handleTransportClose() {
	p.mu.Lock()
	wasSynced := p.synced
	p.synced = false
	p.mu.Unlock()
	if wasSynced {
		p.fireSync(false)
	}

	others := make([]uint32, 0)
	for id := range p.awareness.States() {
		if id != p.awareness.ClientID() {
			others = append(others, id)
		}
	}
	if len(others) > 0 {
		p.awareness.RemoveStates(others, awareness.OriginRemote)
	}

	p.cbMu.RLock()
	fns := append([]func(){}, p.onConnClose...)
	p.cbMu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}

func (p *Provider) handleTransportError(err error) {
	p.cbMu.RLock()
	fns := append([]func(error){}, p.onConnErr...)
	p.cbMu.RUnlock()
	for _, fn := range fns {
		fn(err)
	}
}

// --- inbound frame dispatch (§4.1–4.3, §4.5 "Inbound routing") ---

func (p *Provider) handleFrame(frame []byte, fromTransport bool) {
	if p.isDestroyed() {
		return
	}
	tag, dec, err := wire.DecodeTag(frame)
	if err != nil {
		p.logger.Warn("provider: truncated frame", "err", err)
		if fromTransport {
			p.tm.CloseSocket()
		}
		return
	}

	switch tag {
	case wire.TagSync:
		p.handleSyncFrame(dec, fromTransport)
	case wire.TagAwareness:
		blob, err := dec.Bytes()
		if err != nil {
			p.logger.Warn("provider: truncated awareness frame", "err", err)
			if fromTransport {
				p.tm.CloseSocket()
			}
			return
		}
		if err := p.awareness.ApplyUpdate(blob); err != nil {
			p.logger.Warn("provider: apply awareness update failed", "err", err)
		}
	case wire.TagAuth:
		pd, err := authproto.Read(dec)
		if err != nil {
			p.logger.Warn("provider: truncated auth frame", "err", err)
			if fromTransport {
				p.tm.CloseSocket()
			}
			return
		}
		p.cbMu.RLock()
		fns := append([]func(string){}, p.onPermDenied...)
		p.cbMu.RUnlock()
		for _, fn := range fns {
			fn(pd.Reason)
		}
	case wire.TagQueryAwareness:
		p.sendFullAwareness(fromTransport)
	default:
		p.logger.Warn("provider: unknown top-level tag", "err", wire.ErrUnknownTag, "tag", uint64(tag))
	}
}

func (p *Provider) handleSyncFrame(dec *wire.Decoder, fromTransport bool) {
	reply := wire.NewEncoder(wire.TagSync)
	kind, err := yproto.Read(dec, p.doc, p, reply, p.logger)
	if err != nil {
		p.logger.Warn("provider: truncated sync frame", "err", err)
		if fromTransport {
			p.tm.CloseSocket()
		}
		return
	}

	if kind == yproto.KindSyncStep2 && fromTransport {
		p.mu.Lock()
		wasSynced := p.synced
		p.synced = true
		p.mu.Unlock()
		if !wasSynced {
			p.fireSync(true)
			p.fireSynced(true)
		}
	}

	if !reply.HasPayload() {
		return
	}
	p.replyOnOriginChannel(reply.Finish(), fromTransport)
}

// sendFullAwareness replies to a query_awareness frame. The reply is sent
// back only on the channel the query arrived on (§4.5 "reply...sent back
// only on the origin channel") — it must never leak onto the other channel,
// unlike a locally-authored awareness change, which fans out to both.
func (p *Provider) sendFullAwareness(fromTransport bool) {
	ids := make([]uint32, 0)
	for id := range p.awareness.States() {
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return
	}
	blob, ok := p.awareness.EncodeUpdate(ids, nil)
	if !ok {
		return
	}
	frame := wire.NewEncoder(wire.TagAwareness).Bytes(blob).Finish()
	p.replyOnOriginChannel(frame, fromTransport)
}

// replyOnOriginChannel sends frame back on whichever single channel it came
// from, mirroring handleSyncFrame's reply branch.
func (p *Provider) replyOnOriginChannel(frame []byte, fromTransport bool) {
	if fromTransport {
		_ = p.tm.Send(frame)
		return
	}
	if p.enableBroadcast {
		p.bus.Publish(p.channel, frame, p.busOrigin)
	}
}

func (p *Provider) sendAwarenessFrame(ids []uint32, transportOnly bool) {
	blob, ok := p.awareness.EncodeUpdate(ids, nil)
	if !ok {
		return
	}
	frame := wire.NewEncoder(wire.TagAwareness).Bytes(blob).Finish()
	p.broadcastBoth(frame, transportOnly)
}

// broadcastBoth fans frame out to both live channels. toTransportOnly
// restricts delivery to the transport alone, used for the transport-(re)open
// local-awareness announcement, which has no bus-origin equivalent.
func (p *Provider) broadcastBoth(frame []byte, toTransportOnly bool) {
	if p.tm.State() == transport.StateConnected {
		_ = p.tm.Send(frame)
	}
	if toTransportOnly {
		return
	}
	if p.enableBroadcast {
		p.bus.Publish(p.channel, frame, p.busOrigin)
	}
}

// --- local change fan-out (document + awareness update listeners) ---

func (p *Provider) handleDocUpdate(update []byte, origin any) {
	if p.isDestroyed() {
		return
	}
	if origin == p {
		return // sync echo: this update was applied by our own inbound routing
	}
	p.broadcastBoth(yproto.EncodeUpdate(update), false)
}

func (p *Provider) handleAwarenessUpdate(ev awareness.UpdateEvent) {
	if p.isDestroyed() {
		return
	}
	if ev.Origin == awareness.OriginRemote {
		return // came from ApplyUpdate on an inbound frame; do not re-echo
	}
	ids := make([]uint32, 0, len(ev.Added)+len(ev.Updated)+len(ev.Removed))
	ids = append(ids, ev.Added...)
	ids = append(ids, ev.Updated...)
	ids = append(ids, ev.Removed...)
	p.sendAwarenessFrame(ids, false)
}

func (p *Provider) fireSync(v bool) {
	p.cbMu.RLock()
	fns := append([]func(bool){}, p.onSync...)
	p.cbMu.RUnlock()
	for _, fn := range fns {
		fn(v)
	}
}

func (p *Provider) fireSynced(v bool) {
	p.cbMu.RLock()
	fns := append([]func(bool){}, p.onSynced...)
	p.cbMu.RUnlock()
	for _, fn := range fns {
		fn(v)
	}
}
