// Package messages defines the LoggerNet messaging envelope, the typed body
// codec and the catalogue of message types used by the transaction components.
//
// Every message travels on a logical session opened over a router. The
// envelope is deliberately small: the session number routes the message to
// the component that owns it, the type selects how the body is interpreted.
//
// # Message Structure
//
//	┌─────────────────────────────────────────────────────────┐
//	│  Session (4 bytes) - logical session number            │
//	├─────────────────────────────────────────────────────────┤
//	│  Type (4 bytes) - message type                         │
//	├─────────────────────────────────────────────────────────┤
//	│  Body (variable) - fields written by Writer            │
//	└─────────────────────────────────────────────────────────┘
//
// # Byte Order
//
// All multi-byte integers, in the header and in bodies, are big-endian.
//
// # Bodies
//
// Command bodies almost always start with a transaction number minted by the
// sending component. Acknowledgements and notifications echo it back so that
// a component can discard traffic belonging to a transaction it has already
// abandoned.
package messages

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the message header size in bytes.
const HeaderSize = 8 // 4 (Session) + 4 (Type)

// RouterSession is the session number reserved for router control traffic.
const RouterSession uint32 = 0

var (
	// ErrMessageTooShort is returned when a message is smaller than the header size.
	ErrMessageTooShort = errors.New("message too short")
)

// Message is a single LoggerNet message.
type Message struct {
	Session uint32
	Type    Type
	Body    []byte
}

// New creates a message of the given type on the given session with the body
// produced by w. A nil writer yields an empty body.
func New(session uint32, t Type, w *Writer) *Message {
	m := &Message{Session: session, Type: t}
	if w != nil {
		m.Body = w.Bytes()
	}
	return m
}

// Encode serializes the message to bytes.
func (m *Message) Encode() ([]byte, error) {
	buf := make([]byte, HeaderSize+len(m.Body))
	binary.BigEndian.PutUint32(buf[0:4], m.Session)
	binary.BigEndian.PutUint32(buf[4:8], uint32(m.Type))
	copy(buf[HeaderSize:], m.Body)
	return buf, nil
}

// Decode deserializes a message from bytes. The body is copied so the caller
// may reuse data.
func Decode(data []byte) (*Message, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: got %d bytes, need at least %d", ErrMessageTooShort, len(data), HeaderSize)
	}

	m := &Message{
		Session: binary.BigEndian.Uint32(data[0:4]),
		Type:    Type(binary.BigEndian.Uint32(data[4:8])),
	}
	if len(data) > HeaderSize {
		m.Body = make([]byte, len(data)-HeaderSize)
		copy(m.Body, data[HeaderSize:])
	}
	return m, nil
}

// Reader returns a body reader positioned at the start of the body.
func (m *Message) Reader() *Reader {
	return NewReader(m.Body)
}

// String describes the message for logs.
func (m *Message) String() string {
	return fmt.Sprintf("%s session=%d len=%d", m.Type, m.Session, len(m.Body))
}
