// Package authproto decodes the `auth` frame (§4.1 tag 2). The distilled
// spec only requires the ability to *receive* a permission-denied frame;
// issuing credentials is out of scope (§1 Non-goals).
package authproto

import (
	"fmt"

	"github.com/Polqt/crdtcollab/wire"
)

// Auth sub-tags, carried over the original y-protocols `auth` message.
const (
	SubPermissionDenied uint64 = 0
)

// PermissionDenied is decoded from a permission-denied auth sub-message.
type PermissionDenied struct {
	Reason string
}

// Read decodes an `auth` frame's sub-payload (dec positioned just after the
// top-level TagAuth varuint). The only currently-defined sub-message is
// permission-denied; any other sub-tag is reported as an error so the
// caller can log-and-discard per §4.1's "unknown tag" handling.
func Read(dec *wire.Decoder) (PermissionDenied, error) {
	sub, err := dec.Uvarint()
	if err != nil {
		return PermissionDenied{}, fmt.Errorf("authproto: read sub-tag: %w", err)
	}
	if sub != SubPermissionDenied {
		return PermissionDenied{}, fmt.Errorf("authproto: unknown auth sub-tag %d", sub)
	}
	reason, err := dec.String()
	if err != nil {
		return PermissionDenied{}, fmt.Errorf("authproto: read reason: %w", err)
	}
	return PermissionDenied{Reason: reason}, nil
}

// EncodePermissionDenied builds a full `auth` frame carrying a
// permission-denied notice. Exported chiefly for tests and for relay
// fixtures that need to simulate a server rejecting a connection.
func EncodePermissionDenied(reason string) []byte {
	e := wire.NewEncoder(wire.TagAuth)
	e.Uvarint(SubPermissionDenied)
	e.String(reason)
	return e.Finish()
}
