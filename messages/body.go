package messages

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrBodyTooShort is returned when a Reader runs out of body bytes.
var ErrBodyTooShort = errors.New("message body too short")

// LgrEpoch is the base of LoggerNet time stamps. Stamps travel as signed
// nanoseconds since this instant.
var LgrEpoch = time.Date(1990, time.January, 1, 0, 0, 0, 0, time.UTC)

// ToLgrNanos converts t to nanoseconds since LgrEpoch.
func ToLgrNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Sub(LgrEpoch).Nanoseconds()
}

// FromLgrNanos converts nanoseconds since LgrEpoch to a UTC time.
func FromLgrNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return LgrEpoch.Add(time.Duration(n))
}

// Writer accumulates a message body.
type Writer struct {
	buf []byte
}

// NewWriter creates an empty body writer.
func NewWriter() *Writer {
	return &Writer{buf: make([]byte, 0, 64)}
}

// Bytes returns the accumulated body.
func (w *Writer) Bytes() []byte {
	return w.buf
}

// Uint32 appends a big-endian uint32.
func (w *Writer) Uint32(v uint32) *Writer {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
	return w
}

// Int32 appends a big-endian int32.
func (w *Writer) Int32(v int32) *Writer {
	return w.Uint32(uint32(v))
}

// Int64 appends a big-endian int64.
func (w *Writer) Int64(v int64) *Writer {
	w.buf = binary.BigEndian.AppendUint64(w.buf, uint64(v))
	return w
}

// Bool appends a single byte, 1 for true.
func (w *Writer) Bool(v bool) *Writer {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
	return w
}

// String appends a length-prefixed string.
func (w *Writer) String(s string) *Writer {
	return w.Blob([]byte(s))
}

// Blob appends length-prefixed bytes.
func (w *Writer) Blob(b []byte) *Writer {
	if len(b) > math.MaxUint32 {
		panic("messages: blob too large")
	}
	w.Uint32(uint32(len(b))) // #nosec G115 -- checked above
	w.buf = append(w.buf, b...)
	return w
}

// Time appends a LoggerNet stamp.
func (w *Writer) Time(t time.Time) *Writer {
	return w.Int64(ToLgrNanos(t))
}

// Reader consumes a message body. The first error sticks; later reads return
// zero values so a decoder can read every field and check Err once.
type Reader struct {
	buf []byte
	pos int
	err error
}

// NewReader creates a reader over body.
func NewReader(body []byte) *Reader {
	return &Reader{buf: body}
}

// Err returns the first error encountered.
func (r *Reader) Err() error {
	return r.err
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.buf) - r.pos
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.Remaining() < n {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrBodyTooShort, n, r.pos, r.Remaining())
		return nil
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

// Uint32 reads a big-endian uint32.
func (r *Reader) Uint32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

// Int32 reads a big-endian int32.
func (r *Reader) Int32() int32 {
	return int32(r.Uint32()) // #nosec G115 -- wire reinterpretation
}

// Int64 reads a big-endian int64.
func (r *Reader) Int64() int64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b)) // #nosec G115 -- wire reinterpretation
}

// Bool reads a single byte flag.
func (r *Reader) Bool() bool {
	b := r.take(1)
	return b != nil && b[0] != 0
}

// Blob reads length-prefixed bytes. The result is a copy.
func (r *Reader) Blob() []byte {
	n := r.Uint32()
	if r.err != nil {
		return nil
	}
	if uint64(n) > uint64(r.Remaining()) {
		r.err = fmt.Errorf("%w: blob of %d bytes at offset %d", ErrBodyTooShort, n, r.pos)
		return nil
	}
	b := r.take(int(n))
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// String reads a length-prefixed string.
func (r *Reader) String() string {
	return string(r.Blob())
}

// Time reads a LoggerNet stamp.
func (r *Reader) Time() time.Time {
	return FromLgrNanos(r.Int64())
}
