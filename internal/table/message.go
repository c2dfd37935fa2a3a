package table

import (
	"encoding/binary"
	"fmt"
)

// Message header layout, CCSDS-style primary header:
//
//	bytes 0-1: version(3) | type(1) | sec-header flag(1) | APID(11)
//	bytes 2-3: sequence flags(2) | sequence count(14), stamped at transmit
//	bytes 4-5: payload length - 1
const (
	HeaderLen = 6

	apidMask   = 0x07FF
	seqFlagSet = 0xC000 // unsegmented
)

// Message is a pre-built outgoing message buffer. The table owns the
// template; the transmitter copies it and stamps the sequence count, so the
// stored buffer is never mutated after load.
type Message struct {
	apid uint16
	raw  []byte
}

func NewMessage(apid uint16, payload []byte) (Message, error) {
	if apid > apidMask {
		return Message{}, fmt.Errorf("table: apid 0x%X exceeds 11 bits", apid)
	}
	if len(payload) == 0 {
		return Message{}, fmt.Errorf("table: message payload must be non-empty")
	}
	if len(payload) > 0xFFFF {
		return Message{}, fmt.Errorf("table: message payload %d bytes too large", len(payload))
	}

	raw := make([]byte, HeaderLen+len(payload))
	binary.BigEndian.PutUint16(raw[0:2], apid&apidMask)
	binary.BigEndian.PutUint16(raw[2:4], seqFlagSet)
	binary.BigEndian.PutUint16(raw[4:6], uint16(len(payload)-1))
	copy(raw[HeaderLen:], payload)
	return Message{apid: apid, raw: raw}, nil
}

func (m Message) APID() uint16 { return m.apid }
func (m Message) Len() int     { return len(m.raw) }

// Frame returns a copy of the message with the sequence count stamped into
// the header.
func (m Message) Frame(seq uint16) []byte {
	out := make([]byte, len(m.raw))
	copy(out, m.raw)
	binary.BigEndian.PutUint16(out[2:4], seqFlagSet|(seq&0x3FFF))
	return out
}

// Payload returns a copy of the message payload (for diagnostics).
func (m Message) Payload() []byte {
	out := make([]byte, len(m.raw)-HeaderLen)
	copy(out, m.raw[HeaderLen:])
	return out
}

func (m Message) isZero() bool { return m.raw == nil }

// MessageTable maps activity message indices to message templates. Holes
// (never-loaded indices) report ErrNotFound on lookup.
type MessageTable struct {
	entries []Message
}

func NewMessageTable(size int) (*MessageTable, error) {
	if size < 1 {
		return nil, fmt.Errorf("table: message table size %d must be >= 1", size)
	}
	return &MessageTable{entries: make([]Message, size)}, nil
}

func (t *MessageTable) Len() int { return len(t.entries) }

func (t *MessageTable) Load(index int, m Message) error {
	if index < 0 || index >= len(t.entries) {
		return fmt.Errorf("%w: message index %d not in [0,%d)", ErrOutOfRange, index, len(t.entries))
	}
	if m.isZero() {
		return fmt.Errorf("table: refusing to load empty message at index %d", index)
	}
	t.entries[index] = m
	return nil
}

func (t *MessageTable) Lookup(index int) (Message, error) {
	if index < 0 || index >= len(t.entries) {
		return Message{}, fmt.Errorf("%w: message index %d not in [0,%d)", ErrOutOfRange, index, len(t.entries))
	}
	if t.entries[index].isZero() {
		return Message{}, fmt.Errorf("%w: message index %d", ErrNotFound, index)
	}
	return t.entries[index], nil
}
