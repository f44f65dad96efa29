// Package yproto implements the sync-step handshake and continuous-update
// sub-protocol carried inside `sync` frames (§4.2).
package yproto

import (
	"fmt"
	"log/slog"

	"github.com/Polqt/crdtcollab/doc"
	"github.com/Polqt/crdtcollab/wire"
)

// Sync sub-tags (§4.2).
const (
	SubSyncStep1 uint64 = 0
	SubSyncStep2 uint64 = 1
	SubUpdate    uint64 = 2
)

// Kind classifies a decoded sync sub-message so the caller can decide
// whether it should flip the `synced` flag. readUpdate aliases
// readSyncStep2 in the original source (§9 design note 3): both apply
// updates, but only a SyncStep2 message may ever flip `synced`.
type Kind int

const (
	KindSyncStep1 Kind = iota
	KindSyncStep2
	KindUpdate
)

// EncodeSyncStep1 builds a full `sync`/syncStep1 frame announcing the
// sender's state vector.
func EncodeSyncStep1(document doc.Document) ([]byte, error) {
	sv, err := document.EncodeStateVector()
	if err != nil {
		return nil, fmt.Errorf("yproto: encode state vector: %w", err)
	}
	e := wire.NewEncoder(wire.TagSync)
	e.Uvarint(SubSyncStep1)
	e.Bytes(sv)
	return e.Finish(), nil
}

// EncodeSyncStep2 builds a full `sync`/syncStep2 frame: an update computed
// against the peer's state vector.
func EncodeSyncStep2(document doc.Document, remoteStateVector []byte) ([]byte, error) {
	upd, err := document.EncodeStateAsUpdate(remoteStateVector)
	if err != nil {
		return nil, fmt.Errorf("yproto: encode state as update: %w", err)
	}
	e := wire.NewEncoder(wire.TagSync)
	e.Uvarint(SubSyncStep2)
	e.Bytes(upd)
	return e.Finish(), nil
}

// EncodeUpdate builds a full `sync`/update frame carrying a document update
// blob, used to fan out locally-authored edits (§4.2 "Writing local
// updates").
func EncodeUpdate(update []byte) []byte {
	e := wire.NewEncoder(wire.TagSync)
	e.Uvarint(SubUpdate)
	e.Bytes(update)
	return e.Finish()
}

// Read decodes a sync sub-message from dec (positioned just after the
// top-level TagSync varuint has already been consumed by the caller) and
// applies it to document. If the sub-message is syncStep1, a syncStep2
// reply is appended to reply, which the caller must have already seeded
// with the TagSync tag (so HasPayload() on return tells the caller whether
// anything needs to be sent back).
//
// Document-apply errors are logged and swallowed (§7): a single malformed
// update must not tear down the connection. Decode errors (truncated or
// unknown sub-tag) are returned, since those indicate the frame itself is
// corrupt and the caller should treat it as a protocol error.
func Read(dec *wire.Decoder, document doc.Document, origin any, reply *wire.Encoder, logger *slog.Logger) (Kind, error) {
	sub, err := dec.Uvarint()
	if err != nil {
		return 0, fmt.Errorf("yproto: read sub-tag: %w", err)
	}

	switch sub {
	case SubSyncStep1:
		remoteSV, err := dec.Bytes()
		if err != nil {
			return 0, fmt.Errorf("yproto: read syncStep1 payload: %w", err)
		}
		upd, err := document.EncodeStateAsUpdate(remoteSV)
		if err != nil {
			return 0, fmt.Errorf("yproto: build syncStep2 reply: %w", err)
		}
		if reply != nil {
			reply.Uvarint(SubSyncStep2)
			reply.Bytes(upd)
		}
		return KindSyncStep1, nil

	case SubSyncStep2:
		blob, err := dec.Bytes()
		if err != nil {
			return 0, fmt.Errorf("yproto: read syncStep2 payload: %w", err)
		}
		if err := document.ApplyUpdate(blob, origin); err != nil {
			logWarn(logger, "sync: apply syncStep2 failed", err)
		}
		return KindSyncStep2, nil

	case SubUpdate:
		blob, err := dec.Bytes()
		if err != nil {
			return 0, fmt.Errorf("yproto: read update payload: %w", err)
		}
		if err := document.ApplyUpdate(blob, origin); err != nil {
			logWarn(logger, "sync: apply update failed", err)
		}
		return KindUpdate, nil

	default:
		return 0, fmt.Errorf("yproto: unknown sync sub-tag %d", sub)
	}
}

func logWarn(logger *slog.Logger, msg string, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn(msg, "err", err)
}
