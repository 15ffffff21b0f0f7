// Package framing splits encoded LoggerNet messages into frames for a byte
// stream and reassembles them on receipt.
//
// The stream transport between client and server carries frames rather than
// messages so that a large message (a file fragment, a settings dump) cannot
// monopolise the connection and so that each read has a bounded size.
//
// # Frame Structure
//
//	┌─────────────────────────────────────────────────────────┐
//	│  MessageID (4 bytes) - identifies the original message │
//	├─────────────────────────────────────────────────────────┤
//	│  Index (4 bytes) - sequence number within the message  │
//	├─────────────────────────────────────────────────────────┤
//	│  Flags (1 byte)                                        │
//	│    Bit 0: Start frame                                  │
//	│    Bit 1: End frame                                    │
//	├─────────────────────────────────────────────────────────┤
//	│  Length (4 bytes) - payload length                     │
//	├─────────────────────────────────────────────────────────┤
//	│  Payload (variable)                                    │
//	└─────────────────────────────────────────────────────────┘
//
// All multi-byte fields are big-endian.
//
// # Usage
//
//	framer := framing.NewFramer(maxSize)
//	frames := framer.Split(encoded)
//
//	assembler := framing.NewAssembler()
//	for {
//	    frame, err := framing.ReadFrame(conn)
//	    ...
//	    complete, message, err := assembler.Add(frame)
//	}
package framing

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// HeaderSize is the frame header size in bytes.
const HeaderSize = 13

// Flag bits for frame headers.
const (
	FlagStart = 1 << 0
	FlagEnd   = 1 << 1
)

const (
	// DefaultMaxFrameSize bounds the encoded size of a single frame.
	DefaultMaxFrameSize = 16384
	// DefaultMaxPendingMessages is the default limit for concurrently reassembling messages.
	DefaultMaxPendingMessages = 256
	// DefaultMaxFramesPerMessage is the default limit for frames per message.
	DefaultMaxFramesPerMessage = 4096
	// MaxPayload is the largest payload ReadFrame accepts.
	MaxPayload = 1 << 24
)

var (
	// ErrInvalidFrame is returned when a frame is malformed.
	ErrInvalidFrame = errors.New("invalid frame")
	// ErrDuplicateFrame is returned when a frame index is received twice.
	ErrDuplicateFrame = errors.New("duplicate frame")
	// ErrTooManyPending is returned when the assembler limit on open messages is hit.
	ErrTooManyPending = errors.New("too many pending messages")
)

// Frame is one piece of a message.
type Frame struct {
	MessageID uint32
	Index     uint32
	Start     bool
	End       bool
	Payload   []byte
}

// Encode serializes the frame.
func (f *Frame) Encode() []byte {
	if len(f.Payload) > math.MaxUint32 {
		panic("framing: payload too large")
	}
	buf := make([]byte, HeaderSize+len(f.Payload))
	binary.BigEndian.PutUint32(buf[0:4], f.MessageID)
	binary.BigEndian.PutUint32(buf[4:8], f.Index)
	var flags byte
	if f.Start {
		flags |= FlagStart
	}
	if f.End {
		flags |= FlagEnd
	}
	buf[8] = flags
	binary.BigEndian.PutUint32(buf[9:13], uint32(len(f.Payload))) // #nosec G115 -- checked above
	copy(buf[HeaderSize:], f.Payload)
	return buf
}

// Decode parses one frame from data. Trailing bytes beyond the declared
// payload are ignored.
func Decode(data []byte) (*Frame, error) {
	if len(data) < HeaderSize {
		return nil, ErrInvalidFrame
	}
	f := &Frame{
		MessageID: binary.BigEndian.Uint32(data[0:4]),
		Index:     binary.BigEndian.Uint32(data[4:8]),
		Start:     data[8]&FlagStart != 0,
		End:       data[8]&FlagEnd != 0,
	}
	n := binary.BigEndian.Uint32(data[9:13])
	if uint64(len(data)) < uint64(HeaderSize)+uint64(n) {
		return nil, ErrInvalidFrame
	}
	f.Payload = make([]byte, n)
	copy(f.Payload, data[HeaderSize:HeaderSize+int(n)])
	return f, nil
}

// ReadFrame reads exactly one frame from r.
func ReadFrame(r io.Reader) (*Frame, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[9:13])
	if n > MaxPayload {
		return nil, fmt.Errorf("%w: payload of %d bytes", ErrInvalidFrame, n)
	}
	data := make([]byte, HeaderSize+int(n))
	copy(data, header)
	if n > 0 {
		if _, err := io.ReadFull(r, data[HeaderSize:]); err != nil {
			return nil, fmt.Errorf("read frame payload: %w", err)
		}
	}
	return Decode(data)
}

// Framer splits messages into frames. It is not safe for concurrent use.
type Framer struct {
	maxSize   int
	messageID uint32
}

// NewFramer creates a framer whose frames never exceed maxSize bytes encoded.
func NewFramer(maxSize int) *Framer {
	return &Framer{maxSize: maxSize}
}

// Split assigns the next message id and cuts data into frames.
func (f *Framer) Split(data []byte) []*Frame {
	f.messageID++
	id := f.messageID

	maxPayload := f.maxSize - HeaderSize
	if maxPayload <= 0 {
		maxPayload = len(data)
	}

	var frames []*Frame
	var index uint32
	for offset := 0; offset < len(data); index++ {
		end := offset + maxPayload
		if end > len(data) {
			end = len(data)
		}
		frames = append(frames, &Frame{
			MessageID: id,
			Index:     index,
			Start:     offset == 0,
			End:       end == len(data),
			Payload:   data[offset:end],
		})
		offset = end
	}
	if len(frames) == 0 {
		frames = append(frames, &Frame{MessageID: id, Start: true, End: true})
	}
	return frames
}

// Assembler reassembles frames into messages.
type Assembler struct {
	pending    map[uint32]*pendingMessage
	maxPending int
	maxFrames  int
}

type pendingMessage struct {
	frames   map[uint32][]byte
	total    int
	received int
}

// NewAssembler creates an assembler with default limits.
func NewAssembler() *Assembler {
	return NewAssemblerWithLimits(DefaultMaxPendingMessages, DefaultMaxFramesPerMessage)
}

// NewAssemblerWithLimits creates an assembler with custom limits.
func NewAssemblerWithLimits(maxPending, maxFrames int) *Assembler {
	return &Assembler{
		pending:    make(map[uint32]*pendingMessage),
		maxPending: maxPending,
		maxFrames:  maxFrames,
	}
}

// Pending returns the number of partially received messages.
func (a *Assembler) Pending() int {
	return len(a.pending)
}

// Add adds a frame and reports whether its message is now complete.
func (a *Assembler) Add(f *Frame) (complete bool, data []byte, err error) {
	pm, ok := a.pending[f.MessageID]
	if !ok {
		if len(a.pending) >= a.maxPending {
			return false, nil, fmt.Errorf("%w: %d", ErrTooManyPending, len(a.pending))
		}
		pm = &pendingMessage{frames: make(map[uint32][]byte), total: -1}
		a.pending[f.MessageID] = pm
	}

	if pm.received >= a.maxFrames {
		delete(a.pending, f.MessageID)
		return false, nil, fmt.Errorf("too many frames for message %d: %d", f.MessageID, pm.received)
	}
	if _, dup := pm.frames[f.Index]; dup {
		return false, nil, ErrDuplicateFrame
	}

	pm.frames[f.Index] = f.Payload
	pm.received++
	if f.End {
		pm.total = int(f.Index) + 1
	}
	if pm.total < 0 || pm.received != pm.total {
		return false, nil, nil
	}

	var size int
	for i := 0; i < pm.total; i++ {
		size += len(pm.frames[uint32(i)]) // #nosec G115 -- bounded by total
	}
	out := make([]byte, 0, size)
	for i := 0; i < pm.total; i++ {
		out = append(out, pm.frames[uint32(i)]...) // #nosec G115 -- bounded by total
	}
	delete(a.pending, f.MessageID)
	return true, out, nil
}
