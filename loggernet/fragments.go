package loggernet

import (
	"bytes"
	"fmt"
	"io"
)

// DefaultFragmentSize is the fragment size used by the file senders unless
// overridden.
const DefaultFragmentSize = 1024

// fragmentSource cuts file content into fragments for the send
// transactions.
type fragmentSource struct {
	data  []byte // set by SetContent so the content can be sent again
	r     io.Reader
	total int64
	sent  int64
	size  int
}

func (s *fragmentSource) setBytes(b []byte) {
	s.data = b
	s.r = nil
	s.total = int64(len(b))
}

func (s *fragmentSource) setReader(r io.Reader, size int64) {
	s.data = nil
	s.r = r
	s.total = size
}

// rewind prepares the source for a new transaction.
func (s *fragmentSource) rewind() {
	if s.data != nil {
		s.r = bytes.NewReader(s.data)
	}
	if s.r == nil {
		s.r = bytes.NewReader(nil)
	}
	s.sent = 0
	if s.size <= 0 {
		s.size = DefaultFragmentSize
	}
}

// next reads the next fragment. offset is the position of the fragment in
// the file.
func (s *fragmentSource) next() (frag []byte, offset int64, last bool, err error) {
	n := int64(s.size)
	if remaining := s.total - s.sent; remaining < n {
		n = remaining
	}
	if n < 0 {
		n = 0
	}
	frag = make([]byte, n)
	if _, err := io.ReadFull(s.r, frag); err != nil {
		return nil, s.sent, false, fmt.Errorf("read fragment at %d: %w", s.sent, err)
	}
	offset = s.sent
	s.sent += n
	return frag, offset, s.sent >= s.total, nil
}
