package provider

import (
	"github.com/Polqt/crdtcollab/localbus"
	"github.com/Polqt/crdtcollab/wire"
	"github.com/Polqt/crdtcollab/yproto"
)

// connectBroadcast subscribes to the local bus and runs the join dance
// (§4.5): syncStep1, syncStep2 of current state, query_awareness, and the
// local awareness entry, in that order, so a late-joining local peer
// converges on both document and awareness from a single subscribe.
func (p *Provider) connectBroadcast() {
	if !p.enableBroadcast {
		return
	}
	p.mu.Lock()
	if p.busSub != nil {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	sub := p.bus.Subscribe(p.channel, p.handleBusMessage)
	p.mu.Lock()
	p.busSub = sub
	p.mu.Unlock()

	if frame, err := yproto.EncodeSyncStep1(p.doc); err == nil {
		p.publishBus(frame)
	}
	if frame, err := yproto.EncodeSyncStep2(p.doc, nil); err == nil {
		p.publishBus(frame)
	}
	p.publishBus(wire.NewEncoder(wire.TagQueryAwareness).Finish())
	if local := p.awareness.LocalState(); local != nil {
		if blob, ok := p.awareness.EncodeUpdate([]uint32{p.awareness.ClientID()}, nil); ok {
			p.publishBus(wire.NewEncoder(wire.TagAwareness).Bytes(blob).Finish())
		}
	}
}

// disconnectBroadcast declares the local client gone (SetLocalState(nil)
// emits an OriginLocal awareness update, which handleAwarenessUpdate fans
// out to both channels) and unconditionally unsubscribes from the bus,
// regardless of whether the tombstone could be encoded (Design Notes open
// question 1: always unsubscribe).
func (p *Provider) disconnectBroadcast() {
	if p.awareness.LocalState() != nil {
		p.awareness.SetLocalState(nil)
	}

	p.mu.Lock()
	sub := p.busSub
	p.busSub = nil
	p.mu.Unlock()
	p.bus.Unsubscribe(sub)
}

func (p *Provider) publishBus(frame []byte) {
	if p.enableBroadcast {
		p.bus.Publish(p.channel, frame, p.busOrigin)
	}
}

func (p *Provider) handleBusMessage(msg localbus.Message) {
	if msg.Origin == p.busOrigin {
		return
	}
	p.handleFrame(msg.Data, false)
}
