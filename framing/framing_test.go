package framing

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameEncodeDecode(t *testing.T) {
	tests := []struct {
		name  string
		frame *Frame
	}{
		{"single", &Frame{MessageID: 1, Start: true, End: true, Payload: []byte("hello")}},
		{"start", &Frame{MessageID: 9, Index: 0, Start: true, Payload: []byte("part one")}},
		{"end", &Frame{MessageID: 9, Index: 2, End: true, Payload: []byte("part three")}},
		{"empty", &Frame{MessageID: 3, Start: true, End: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decoded, err := Decode(tt.frame.Encode())
			require.NoError(t, err)
			assert.Equal(t, tt.frame.MessageID, decoded.MessageID)
			assert.Equal(t, tt.frame.Index, decoded.Index)
			assert.Equal(t, tt.frame.Start, decoded.Start)
			assert.Equal(t, tt.frame.End, decoded.End)
			assert.True(t, bytes.Equal(tt.frame.Payload, decoded.Payload))
		})
	}
}

func TestDecodeInvalid(t *testing.T) {
	_, err := Decode(make([]byte, HeaderSize-1))
	assert.ErrorIs(t, err, ErrInvalidFrame)

	truncated := (&Frame{MessageID: 1, Payload: []byte("abcdef")}).Encode()
	_, err = Decode(truncated[:len(truncated)-2])
	assert.ErrorIs(t, err, ErrInvalidFrame)
}

func TestSplitAndAssemble(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789"), 25)
	framer := NewFramer(HeaderSize + 32)
	frames := framer.Split(data)
	require.Len(t, frames, 8)
	assert.True(t, frames[0].Start)
	assert.True(t, frames[len(frames)-1].End)

	var stream bytes.Buffer
	// deliver out of order through a stream
	for i := len(frames) - 1; i >= 0; i-- {
		stream.Write(frames[i].Encode())
	}

	a := NewAssembler()
	var got []byte
	for i := 0; i < len(frames); i++ {
		f, err := ReadFrame(&stream)
		require.NoError(t, err)
		complete, msg, err := a.Add(f)
		require.NoError(t, err)
		if complete {
			got = msg
		}
	}
	assert.Equal(t, data, got)
	assert.Equal(t, 0, a.Pending())
}

func TestSplitEmpty(t *testing.T) {
	frames := NewFramer(64).Split(nil)
	require.Len(t, frames, 1)
	assert.True(t, frames[0].Start && frames[0].End)

	complete, msg, err := NewAssembler().Add(frames[0])
	require.NoError(t, err)
	assert.True(t, complete)
	assert.Empty(t, msg)
}

func TestMessageIDsIncrease(t *testing.T) {
	framer := NewFramer(64)
	a := framer.Split([]byte("a"))
	b := framer.Split([]byte("b"))
	assert.Equal(t, a[0].MessageID+1, b[0].MessageID)
}

func TestAssemblerLimits(t *testing.T) {
	a := NewAssemblerWithLimits(1, 2)
	_, _, err := a.Add(&Frame{MessageID: 1, Index: 0, Start: true})
	require.NoError(t, err)

	_, _, err = a.Add(&Frame{MessageID: 2, Index: 0, Start: true})
	assert.ErrorIs(t, err, ErrTooManyPending)

	_, _, err = a.Add(&Frame{MessageID: 1, Index: 0})
	assert.ErrorIs(t, err, ErrDuplicateFrame)

	_, _, err = a.Add(&Frame{MessageID: 1, Index: 1})
	require.NoError(t, err)
	_, _, err = a.Add(&Frame{MessageID: 1, Index: 2})
	assert.Error(t, err)
	assert.Equal(t, 0, a.Pending())
}
