// Package wire implements the length-prefixed, varint-tagged frame format
// shared by the transport socket and the local broadcast bus. One
// transport message (or one bus publish) carries exactly one frame; the
// enclosing channel supplies the outer framing, so nothing here deals with
// stream boundaries.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Tag identifies the top-level kind of an encoded frame.
type Tag uint64

const (
	TagSync           Tag = 0
	TagAwareness      Tag = 1
	TagAuth           Tag = 2
	TagQueryAwareness Tag = 3
)

func (t Tag) String() string {
	switch t {
	case TagSync:
		return "sync"
	case TagAwareness:
		return "awareness"
	case TagAuth:
		return "auth"
	case TagQueryAwareness:
		return "query_awareness"
	default:
		return fmt.Sprintf("tag(%d)", uint64(t))
	}
}

// ErrTruncated is returned when a frame ends before a required field could
// be fully read. Callers treat this as a protocol error: the offending
// frame is dropped and, for transport frames, the socket is closed.
var ErrTruncated = errors.New("wire: truncated frame")

// ErrUnknownTag marks a leading varuint that does not match a known Tag.
// DecodeTag does not return it; callers that classify the tag report it
// when they log and discard the frame.
var ErrUnknownTag = errors.New("wire: unknown top-level tag")

// Encoder builds a frame by appending varuint/varbytes/varstring fields.
// The zero value is ready to use.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an Encoder with the given tag already written.
func NewEncoder(tag Tag) *Encoder {
	e := &Encoder{}
	e.Uvarint(uint64(tag))
	return e
}

// Uvarint appends v as a little-endian base-128 varint.
func (e *Encoder) Uvarint(v uint64) *Encoder {
	e.buf = binary.AppendUvarint(e.buf, v)
	return e
}

// Bytes appends a varbytes field: a varuint length followed by raw bytes.
func (e *Encoder) Bytes(b []byte) *Encoder {
	e.Uvarint(uint64(len(b)))
	e.buf = append(e.buf, b...)
	return e
}

// String appends a varstring field (varbytes of the UTF-8 encoding).
func (e *Encoder) String(s string) *Encoder {
	return e.Bytes([]byte(s))
}

// Len reports the number of bytes written so far, including the tag.
func (e *Encoder) Len() int { return len(e.buf) }

// Finish returns the accumulated frame. The returned slice aliases the
// encoder's internal buffer; callers that need to retain it across further
// writes to the encoder should copy it.
func (e *Encoder) Finish() []byte { return e.buf }

// HasPayload reports whether anything beyond the leading tag byte has been
// written. The Provider uses this to decide whether a reply encoder
// produced anything worth sending.
func (e *Encoder) HasPayload() bool { return e.Len() > 1 }

// Decoder reads varuint/varbytes/varstring fields sequentially from a
// frame buffer.
type Decoder struct {
	buf []byte
	pos int
}

// NewDecoder wraps buf for sequential reads. buf is not copied.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// Remaining reports how many bytes have not yet been consumed.
func (d *Decoder) Remaining() int { return len(d.buf) - d.pos }

// Uvarint reads a little-endian base-128 varint.
func (d *Decoder) Uvarint() (uint64, error) {
	v, n := binary.Uvarint(d.buf[d.pos:])
	if n <= 0 {
		return 0, ErrTruncated
	}
	d.pos += n
	return v, nil
}

// Bytes reads a varbytes field and returns a slice aliasing the decoder's
// underlying buffer.
func (d *Decoder) Bytes() ([]byte, error) {
	n, err := d.Uvarint()
	if err != nil {
		return nil, err
	}
	if uint64(d.Remaining()) < n {
		return nil, ErrTruncated
	}
	b := d.buf[d.pos : d.pos+int(n)]
	d.pos += int(n)
	return b, nil
}

// String reads a varbytes field and interprets it as UTF-8.
func (d *Decoder) String() (string, error) {
	b, err := d.Bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeTag reads the leading varuint tag of a frame without consuming the
// rest of the payload.
func DecodeTag(frame []byte) (Tag, *Decoder, error) {
	d := NewDecoder(frame)
	v, err := d.Uvarint()
	if err != nil {
		return 0, nil, err
	}
	return Tag(v), d, nil
}
