// Package awareness implements the ephemeral per-client presence protocol
// (§4.3): clock-disambiguated last-writer-wins state, self-defense against
// accidental remote removal, and timeout-driven garbage collection.
package awareness

import (
	"bytes"
	"encoding/json"
	"sync"
	"time"

	"github.com/Polqt/crdtcollab/wire"
)

// DefaultOutdatedTimeout is the default liveness window (§3 invariant 3).
const DefaultOutdatedTimeout = 30 * time.Second

// Origin tags the cause of an awareness mutation, threaded through to
// Change/Update listeners. It mirrors the Design Notes' suggestion of a
// small closed origin enum instead of an untyped "any" payload.
type Origin string

const (
	OriginLocal   Origin = "local"
	OriginRemote  Origin = "remote"
	OriginTimeout Origin = "timeout"
)

// MetaEntry is the per-client bookkeeping record from §3.
type MetaEntry struct {
	Clock       uint32
	LastUpdated time.Time
}

// ChangeEvent carries the "interesting to a UI" subset of a mutation: added,
// removed, and deep-inequality-filtered updated client ids.
type ChangeEvent struct {
	Added   []uint32
	Updated []uint32
	Removed []uint32
	Origin  Origin
}

func (e ChangeEvent) empty() bool {
	return len(e.Added) == 0 && len(e.Updated) == 0 && len(e.Removed) == 0
}

// UpdateEvent carries the full set of touched client ids, suitable for wire
// re-broadcast (§4.3: "update carries {added, updated, removed}, full set").
type UpdateEvent struct {
	Added   []uint32
	Updated []uint32
	Removed []uint32
	Origin  Origin
}

func (e UpdateEvent) empty() bool {
	return len(e.Added) == 0 && len(e.Updated) == 0 && len(e.Removed) == 0
}

// Awareness maintains the local client's presence state and a mirror of
// every remote client's last-known state.
type Awareness struct {
	mu sync.Mutex

	clientID        uint32
	outdatedTimeout time.Duration

	states map[uint32][]byte // client id -> JSON-encoded state; absent = tombstoned or unseen
	meta   map[uint32]MetaEntry

	changeFns []func(ChangeEvent)
	updateFns []func(UpdateEvent)

	now func() time.Time

	closeOnce sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// New creates an Awareness engine for clientID and starts its liveness
// sweeper goroutine. outdatedTimeout <= 0 uses DefaultOutdatedTimeout.
func New(clientID uint32, outdatedTimeout time.Duration) *Awareness {
	if outdatedTimeout <= 0 {
		outdatedTimeout = DefaultOutdatedTimeout
	}
	a := &Awareness{
		clientID:        clientID,
		outdatedTimeout: outdatedTimeout,
		states:          make(map[uint32][]byte),
		meta:            make(map[uint32]MetaEntry),
		now:             time.Now,
		stopCh:          make(chan struct{}),
	}
	// §9 design note 2: the engine sets local state to {} in its
	// constructor; this is a valid, broadcastable, non-null state.
	a.setLocalStateLocked([]byte("{}"), a.now())

	a.wg.Add(1)
	go a.sweepLoop()
	return a
}

// ClientID returns the local client identifier.
func (a *Awareness) ClientID() uint32 { return a.clientID }

// OnChange registers a listener for coalesced, UI-relevant mutations.
func (a *Awareness) OnChange(fn func(ChangeEvent)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.changeFns = append(a.changeFns, fn)
}

// OnUpdate registers a listener for the full mutation set, suitable for
// wire re-broadcast.
func (a *Awareness) OnUpdate(fn func(UpdateEvent)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.updateFns = append(a.updateFns, fn)
}

// LocalState returns the local client's current state, or nil if tombstoned.
func (a *Awareness) LocalState() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.states[a.clientID]
}

// State returns clientID's last-known state, or (nil, false) if unknown or
// tombstoned.
func (a *Awareness) State(clientID uint32) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.states[clientID]
	return s, ok
}

// States returns a snapshot of every currently-known non-tombstoned state.
func (a *Awareness) States() map[uint32][]byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[uint32][]byte, len(a.states))
	for k, v := range a.states {
		out[k] = v
	}
	return out
}

// Clock returns the current clock for clientID (0 if never observed).
func (a *Awareness) Clock(clientID uint32) uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.meta[clientID].Clock
}

// SetLocalState assigns a new local state. A nil state tombstones the local
// client (used by the Provider's local-bus leave dance, which runs on
// Disconnect and Destroy). Every call strictly increments meta[self].clock
// (§8 invariant 2).
func (a *Awareness) SetLocalState(state []byte) {
	a.mu.Lock()
	change, update := a.setLocalStateLocked(state, a.now())
	a.mu.Unlock()
	a.emit(change, update)
}

func (a *Awareness) setLocalStateLocked(state []byte, now time.Time) (ChangeEvent, UpdateEvent) {
	id := a.clientID
	prevClock := a.meta[id].Clock
	prev, existed := a.states[id]

	var added, updated, removed, filtered []uint32
	if state == nil {
		if existed {
			delete(a.states, id)
			removed = []uint32{id}
		}
	} else {
		a.states[id] = state
		if !existed {
			added = []uint32{id}
		} else {
			updated = []uint32{id}
			if !bytesDeepEqual(prev, state) {
				filtered = []uint32{id}
			}
		}
	}
	a.meta[id] = MetaEntry{Clock: prevClock + 1, LastUpdated: now}

	change := ChangeEvent{Added: added, Updated: filtered, Removed: removed, Origin: OriginLocal}
	update := UpdateEvent{Added: added, Updated: updated, Removed: removed, Origin: OriginLocal}
	return change, update
}

// RemoveStates deletes ids from states. If the local client id is included,
// its clock is bumped (it is expected to re-assert itself if it intends to
// stay live). origin labels the emitted events, e.g. OriginTimeout for the
// sweeper's own removals.
func (a *Awareness) RemoveStates(ids []uint32, origin Origin) {
	a.mu.Lock()
	var removed []uint32
	for _, id := range ids {
		if _, ok := a.states[id]; ok {
			delete(a.states, id)
			removed = append(removed, id)
		}
		if id == a.clientID {
			m := a.meta[id]
			m.Clock++
			m.LastUpdated = a.now()
			a.meta[id] = m
		}
	}
	a.mu.Unlock()

	if len(removed) == 0 {
		return
	}
	a.emit(
		ChangeEvent{Removed: removed, Origin: origin},
		UpdateEvent{Removed: removed, Origin: origin},
	)
}

// ApplyUpdate decodes and applies an incoming awareness blob per §4.3's
// acceptance rule. It never returns an error for well-formed-but-stale
// records; malformed wire data returns an error so the caller can treat it
// as a protocol error.
func (a *Awareness) ApplyUpdate(blob []byte) error {
	records, err := decodeBlob(blob)
	if err != nil {
		return err
	}

	a.mu.Lock()
	now := a.now()
	var added, updated, removed, filtered []uint32
	for _, rec := range records {
		known := a.meta[rec.clientID].Clock
		accept := rec.clock > known
		if !accept && rec.clock == known && rec.state == nil {
			if _, present := a.states[rec.clientID]; present {
				accept = true
			}
		}
		if !accept {
			continue
		}

		finalClock := rec.clock
		if rec.state == nil && rec.clientID == a.clientID {
			if local, ok := a.states[a.clientID]; ok && local != nil {
				// Self-defense: a remote peer tried to null our own entry.
				// Bump the clock so the correction propagates, but keep
				// the local state untouched.
				finalClock = rec.clock + 1
				a.meta[rec.clientID] = MetaEntry{Clock: finalClock, LastUpdated: now}
				continue
			}
		}

		prev, existed := a.states[rec.clientID]
		if rec.state == nil {
			if existed {
				delete(a.states, rec.clientID)
				removed = append(removed, rec.clientID)
			}
		} else {
			a.states[rec.clientID] = rec.state
			if !existed {
				added = append(added, rec.clientID)
			} else {
				updated = append(updated, rec.clientID)
				if !bytesDeepEqual(prev, rec.state) {
					filtered = append(filtered, rec.clientID)
				}
			}
		}
		a.meta[rec.clientID] = MetaEntry{Clock: finalClock, LastUpdated: now}
	}
	a.mu.Unlock()

	a.emit(
		ChangeEvent{Added: added, Updated: filtered, Removed: removed, Origin: OriginRemote},
		UpdateEvent{Added: added, Updated: updated, Removed: removed, Origin: OriginRemote},
	)
	return nil
}

func (a *Awareness) emit(change ChangeEvent, update UpdateEvent) {
	a.mu.Lock()
	changeFns := append([]func(ChangeEvent){}, a.changeFns...)
	updateFns := append([]func(UpdateEvent){}, a.updateFns...)
	a.mu.Unlock()

	if !change.empty() {
		for _, fn := range changeFns {
			fn(change)
		}
	}
	if !update.empty() {
		for _, fn := range updateFns {
			fn(update)
		}
	}
}

// EncodeUpdate builds an update blob covering clientIDs. If states is
// non-nil it overrides the live state map for every id, so a caller can
// encode e.g. an all-null snapshot without mutating local bookkeeping (the
// Provider always passes nil). If any id has no known clock, nothing is
// produced at all (ok=false) per §4.3 "Encode update blob".
func (a *Awareness) EncodeUpdate(clientIDs []uint32, states map[uint32][]byte) ([]byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	records := make([]record, 0, len(clientIDs))
	for _, id := range clientIDs {
		meta, ok := a.meta[id]
		if !ok {
			return nil, false
		}
		var state []byte
		if states != nil {
			state = states[id] // nil is a valid override value (tombstone)
		} else {
			state = a.states[id]
		}
		records = append(records, record{clientID: id, clock: meta.Clock, state: state})
	}
	return encodeBlob(records), true
}

// ModifyUpdate rewrites an incoming blob's state values via transform,
// leaving client ids and clocks untouched. Used by relays that rewrite
// identity fields embedded in the state JSON.
func ModifyUpdate(blob []byte, transform func(clientID uint32, state []byte) []byte) ([]byte, error) {
	records, err := decodeBlob(blob)
	if err != nil {
		return nil, err
	}
	for i := range records {
		records[i].state = transform(records[i].clientID, records[i].state)
	}
	return encodeBlob(records), nil
}

// Close stops the liveness sweeper goroutine. Idempotent.
func (a *Awareness) Close() {
	a.closeOnce.Do(func() {
		close(a.stopCh)
	})
	a.wg.Wait()
}

func (a *Awareness) sweepLoop() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.outdatedTimeout / 10)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.Sweep(a.now())
		}
	}
}

// Sweep performs one liveness pass: re-asserting the local state if it is
// going stale, and evicting remote clients that have passed
// outdatedTimeout since their last update (§4.3 "Liveness sweeper"). It is
// exported so tests can drive eviction deterministically instead of
// sleeping real wall-clock time.
func (a *Awareness) Sweep(now time.Time) {
	a.mu.Lock()
	local, hasLocal := a.states[a.clientID]
	localMeta := a.meta[a.clientID]
	needsReassert := hasLocal && local != nil && now.Sub(localMeta.LastUpdated) > a.outdatedTimeout/2

	var stale []uint32
	for id, m := range a.meta {
		if id == a.clientID {
			continue
		}
		if _, present := a.states[id]; !present {
			continue
		}
		if now.Sub(m.LastUpdated) >= a.outdatedTimeout {
			stale = append(stale, id)
		}
	}
	a.mu.Unlock()

	if needsReassert {
		a.SetLocalState(local)
	}
	if len(stale) > 0 {
		a.RemoveStates(stale, OriginTimeout)
	}
}

// record is one (client_id, clock, state) triple of the wire format.
type record struct {
	clientID uint32
	clock    uint32
	state    []byte // nil = tombstone
}

func encodeBlob(records []record) []byte {
	e := &wire.Encoder{}
	e.Uvarint(uint64(len(records)))
	for _, r := range records {
		e.Uvarint(uint64(r.clientID))
		e.Uvarint(uint64(r.clock))
		if r.state == nil {
			e.String("null")
		} else {
			e.String(string(r.state))
		}
	}
	return e.Finish()
}

func decodeBlob(blob []byte) ([]record, error) {
	d := wire.NewDecoder(blob)
	n, err := d.Uvarint()
	if err != nil {
		return nil, err
	}
	records := make([]record, 0, n)
	for i := uint64(0); i < n; i++ {
		clientID, err := d.Uvarint()
		if err != nil {
			return nil, err
		}
		clock, err := d.Uvarint()
		if err != nil {
			return nil, err
		}
		s, err := d.String()
		if err != nil {
			return nil, err
		}
		var state []byte
		if s != "null" {
			state = []byte(s)
		}
		records = append(records, record{clientID: uint32(clientID), clock: uint32(clock), state: state})
	}
	return records, nil
}

// bytesDeepEqual compares two JSON-encoded values for semantic equality,
// not byte equality, so that e.g. `{"a":1,"b":2}` and `{"b":2,"a":1}` count
// as unchanged. Invalid JSON falls back to a byte comparison.
func bytesDeepEqual(a, b []byte) bool {
	if bytes.Equal(a, b) {
		return true
	}
	var va, vb any
	if json.Unmarshal(a, &va) != nil || json.Unmarshal(b, &vb) != nil {
		return false
	}
	na, errA := json.Marshal(va)
	nb, errB := json.Marshal(vb)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(normalizeJSON(na), normalizeJSON(nb))
}

// normalizeJSON re-marshals through map[string]any / []any so key order
// becomes canonical (Go's encoding/json sorts map keys on Marshal).
func normalizeJSON(b []byte) []byte {
	var v any
	if json.Unmarshal(b, &v) != nil {
		return b
	}
	out, err := json.Marshal(v)
	if err != nil {
		return b
	}
	return out
}
