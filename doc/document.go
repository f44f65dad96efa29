package doc

import (
	"fmt"
	"sync"

	"github.com/Polqt/crdtcollab/wire"
)

// Document is the document-engine collaborator interface consumed by the
// synchronization core (§6). The core treats it as an opaque black box:
// state-vector encoding, update application, and client-ID assignment are
// all document-engine concerns.
type Document interface {
	// ClientID returns this replica's document-engine-assigned identifier.
	ClientID() uint32

	// EncodeStateVector returns a compact summary of how much of each
	// client's history this replica has seen.
	EncodeStateVector() ([]byte, error)

	// EncodeStateAsUpdate returns an update blob covering everything this
	// replica knows that is not already reflected in remoteStateVector.
	// A nil remoteStateVector requests the full state.
	EncodeStateAsUpdate(remoteStateVector []byte) ([]byte, error)

	// ApplyUpdate merges update into the document. origin identifies the
	// caller that produced the update (see the origin-echo-suppression
	// discussion in §4.2); it is threaded back to OnUpdate listeners
	// unchanged.
	ApplyUpdate(update []byte, origin any) error

	// OnUpdate registers a listener invoked after every successful local
	// or remote mutation. Multiple listeners may be registered.
	OnUpdate(fn func(update []byte, origin any))

	// OnDestroy registers a listener invoked when Destroy is called.
	OnDestroy(fn func())

	// Destroy releases the document. Idempotent.
	Destroy()
}

// op tags for the reference document's wire encoding of RGA operations.
const (
	opInsert = 0
	opDelete = 1
)

// RGADocument is the reference Document implementation: a single
// collaboratively-edited text field backed by doc.RGA.
type RGADocument struct {
	mu       sync.Mutex
	clientID uint32
	nodeID   string
	rga      *RGA
	opLog    []RGANode // every op this replica has observed, in observation order

	updateFns  []func(update []byte, origin any)
	destroyFns []func()
	destroyed  bool
}

// NewRGADocument creates a document identified by clientID. nodeID is the
// string form used inside RGA node identifiers (distinct clients must use
// distinct nodeIDs).
func NewRGADocument(clientID uint32, nodeID string) *RGADocument {
	return &RGADocument{
		clientID: clientID,
		nodeID:   nodeID,
		rga:      NewRGA(),
	}
}

func (d *RGADocument) ClientID() uint32 { return d.clientID }

// Text returns the current document text.
func (d *RGADocument) Text() string { return d.rga.Text() }

// InsertLocal inserts a character locally after afterID and notifies
// update listeners with origin set to local (the caller's own token,
// typically the Provider is NOT the origin for locally-authored edits —
// the Provider only tags updates it itself applies).
func (d *RGADocument) InsertLocal(afterID RGANodeID, char rune, origin any) RGANodeID {
	node := d.rga.Insert(afterID, char, d.nodeID)
	d.recordAndNotify(node, origin)
	return node.ID
}

// DeleteLocal tombstones id locally and notifies update listeners.
func (d *RGADocument) DeleteLocal(id RGANodeID, origin any) {
	d.rga.Delete(id)
	tomb := RGANode{ID: id, Deleted: true}
	d.recordAndNotify(tomb, origin)
}

func (d *RGADocument) recordAndNotify(op RGANode, origin any) {
	d.mu.Lock()
	d.opLog = append(d.opLog, op)
	fns := append([]func(update []byte, origin any){}, d.updateFns...)
	d.mu.Unlock()

	update := encodeOps([]RGANode{op})
	for _, fn := range fns {
		fn(update, origin)
	}
}

func (d *RGADocument) EncodeStateVector() ([]byte, error) {
	seqs := make(map[string]uint64)
	for _, op := range d.rga.Snapshot() {
		if op.ID.Seq > seqs[op.ID.NodeID] {
			seqs[op.ID.NodeID] = op.ID.Seq
		}
	}
	e := &wire.Encoder{}
	e.Uvarint(uint64(len(seqs)))
	for node, seq := range seqs {
		e.String(node)
		e.Uvarint(seq)
	}
	return e.Finish(), nil
}

func (d *RGADocument) EncodeStateAsUpdate(remoteStateVector []byte) ([]byte, error) {
	remote := make(map[string]uint64)
	if len(remoteStateVector) > 0 {
		dec := wire.NewDecoder(remoteStateVector)
		n, err := dec.Uvarint()
		if err != nil {
			return nil, fmt.Errorf("doc: decode remote state vector: %w", err)
		}
		for i := uint64(0); i < n; i++ {
			node, err := dec.String()
			if err != nil {
				return nil, fmt.Errorf("doc: decode remote state vector: %w", err)
			}
			seq, err := dec.Uvarint()
			if err != nil {
				return nil, fmt.Errorf("doc: decode remote state vector: %w", err)
			}
			remote[node] = seq
		}
	}

	var missing []RGANode
	for _, op := range d.rga.Snapshot() {
		if op.ID.Seq > remote[op.ID.NodeID] {
			missing = append(missing, op)
		}
	}
	return encodeOps(missing), nil
}

func (d *RGADocument) ApplyUpdate(update []byte, origin any) error {
	ops, err := decodeOps(update)
	if err != nil {
		return fmt.Errorf("doc: decode update: %w", err)
	}
	for _, op := range ops {
		if err := d.rga.Apply(op); err != nil {
			return err
		}
	}

	d.mu.Lock()
	d.opLog = append(d.opLog, ops...)
	fns := append([]func(update []byte, origin any){}, d.updateFns...)
	d.mu.Unlock()

	for _, fn := range fns {
		fn(update, origin)
	}
	return nil
}

func (d *RGADocument) OnUpdate(fn func(update []byte, origin any)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updateFns = append(d.updateFns, fn)
}

func (d *RGADocument) OnDestroy(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroyFns = append(d.destroyFns, fn)
}

func (d *RGADocument) Destroy() {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	d.destroyed = true
	fns := append([]func(){}, d.destroyFns...)
	d.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func encodeOps(ops []RGANode) []byte {
	e := &wire.Encoder{}
	e.Uvarint(uint64(len(ops)))
	for _, op := range ops {
		if op.Deleted {
			e.Uvarint(opDelete)
		} else {
			e.Uvarint(opInsert)
		}
		e.Uvarint(op.ID.Seq)
		e.String(op.ID.NodeID)
		e.Uvarint(op.InsertAfter.Seq)
		e.String(op.InsertAfter.NodeID)
		e.Uvarint(uint64(op.Char))
	}
	return e.Finish()
}

func decodeOps(update []byte) ([]RGANode, error) {
	dec := wire.NewDecoder(update)
	n, err := dec.Uvarint()
	if err != nil {
		return nil, err
	}
	ops := make([]RGANode, 0, n)
	for i := uint64(0); i < n; i++ {
		kind, err := dec.Uvarint()
		if err != nil {
			return nil, err
		}
		seq, err := dec.Uvarint()
		if err != nil {
			return nil, err
		}
		nodeID, err := dec.String()
		if err != nil {
			return nil, err
		}
		afterSeq, err := dec.Uvarint()
		if err != nil {
			return nil, err
		}
		afterNode, err := dec.String()
		if err != nil {
			return nil, err
		}
		char, err := dec.Uvarint()
		if err != nil {
			return nil, err
		}
		ops = append(ops, RGANode{
			ID:          RGANodeID{Seq: seq, NodeID: nodeID},
			InsertAfter: RGANodeID{Seq: afterSeq, NodeID: afterNode},
			Char:        rune(char),
			Deleted:     kind == opDelete,
		})
	}
	return ops, nil
}
