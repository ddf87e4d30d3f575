package provider

import "io"

const bodyReadSize = 4096

// BodyStream adapts an io.ReadCloser, typically an HTTP response body, into
// a RawStream. Buffers are delivered exactly as the transport produces them.
type BodyStream struct {
	r    io.ReadCloser
	buf  []byte
	cur  []byte
	err  error
	done bool
}

// NewBodyStream wraps the reader. The stream owns it; Close closes it.
func NewBodyStream(r io.ReadCloser) *BodyStream {
	return &BodyStream{r: r, buf: make([]byte, bodyReadSize)}
}

func (s *BodyStream) Next() bool {
	if s.done {
		return false
	}
	for {
		n, err := s.r.Read(s.buf)
		if n > 0 {
			s.cur = s.buf[:n]
		}
		if err != nil {
			s.done = true
			if err != io.EOF {
				s.err = err
			}
			return n > 0
		}
		if n > 0 {
			return true
		}
	}
}

// Bytes returns the current buffer, valid until the next call to Next.
func (s *BodyStream) Bytes() []byte {
	return s.cur
}

func (s *BodyStream) Err() error {
	return s.err
}

func (s *BodyStream) Close() error {
	s.done = true
	return s.r.Close()
}
