package protocol

import (
	"errors"
	"io"
	"net"
)

// DefaultReadBufferSize is the read chunk size when none is configured
const DefaultReadBufferSize = 2048

// maxEmptyReads bounds consecutive (0, nil) reads, as bufio does
const maxEmptyReads = 100

// FrameReader reassembles frames from a byte stream. A single Read may carry
// part of a frame, several frames, or the tail of one frame and the head of
// the next, so bytes are accumulated and decoded from the front after every
// read.
type FrameReader struct {
	r       io.Reader
	catalog Catalog
	chunk   []byte
	buf     []byte // bytes received but not yet consumed
	readErr error  // error returned alongside the last read
}

// NewFrameReader creates a reader decoding frames of the given catalog.
// bufferSize is the size of each Read call; values <= 0 use DefaultReadBufferSize.
func NewFrameReader(r io.Reader, catalog Catalog, bufferSize int) *FrameReader {
	if bufferSize <= 0 {
		bufferSize = DefaultReadBufferSize
	}
	return &FrameReader{
		r:       r,
		catalog: catalog,
		chunk:   make([]byte, bufferSize),
	}
}

// Buffered returns the number of bytes held that do not yet form a frame
func (fr *FrameReader) Buffered() int {
	return len(fr.buf)
}

// Next returns the next complete frame.
//
// An error wrapping ErrUnknownType means a complete frame with a tag outside
// the catalog was skipped; the stream is still aligned and Next may be called
// again. io.EOF means the stream ended cleanly between frames and
// io.ErrUnexpectedEOF that it ended inside one. A read deadline timeout keeps
// the buffered bytes, so Next may be called again once the deadline has moved.
// Every other error means the stream can no longer be trusted and the
// connection should be dropped.
func (fr *FrameReader) Next() (*Frame, error) {
	for {
		if len(fr.buf) > 0 {
			frame, n, err := DecodeFrame(fr.buf, fr.catalog)
			switch {
			case err == nil:
				fr.consume(n)
				return frame, nil

			case errors.Is(err, ErrUnknownType):
				size, perr := PeekFrameSize(fr.buf)
				if perr == nil && len(fr.buf) >= size {
					fr.consume(size)
					return nil, err
				}
				if perr != nil && !errors.Is(perr, ErrTruncatedFrame) {
					return nil, perr
				}

			case errors.Is(err, ErrTruncatedFrame) && !errors.Is(err, ErrCorruptFrame):
				// Incomplete, wait for more bytes

			default:
				return nil, err
			}
		}

		if err := fr.fill(); err != nil {
			return nil, err
		}
	}
}

// fill performs one Read and appends the result to the accumulator
func (fr *FrameReader) fill() error {
	if fr.readErr != nil {
		if fr.readErr == io.EOF && len(fr.buf) > 0 {
			return io.ErrUnexpectedEOF
		}
		return fr.readErr
	}

	for i := 0; i < maxEmptyReads; i++ {
		n, err := fr.r.Read(fr.chunk)
		fr.buf = append(fr.buf, fr.chunk[:n]...)
		if err != nil {
			if isTimeout(err) {
				// The caller may move the deadline and read again
				if n > 0 {
					return nil
				}
				return err
			}
			fr.readErr = err
			if n > 0 {
				// Decode what arrived before reporting the error
				return nil
			}
			return fr.fill()
		}
		if n > 0 {
			return nil
		}
	}
	return io.ErrNoProgress
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (fr *FrameReader) consume(n int) {
	rest := copy(fr.buf, fr.buf[n:])
	fr.buf = fr.buf[:rest]
}
