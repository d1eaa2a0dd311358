package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"unicode/utf8"
)

var (
	ErrEncodeOverflow  = errors.New("field exceeds maximum length (4 GiB)")
	ErrInvalidEncoding = errors.New("invalid UTF-8 string")
)

// All integers on the wire are little-endian.

// WriteUint8 writes a single byte
func WriteUint8(w io.Writer, v uint8) error {
	_, err := w.Write([]byte{v})
	return err
}

// WriteUint32 writes a 32-bit unsigned integer in little-endian
func WriteUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

// WriteUint64 writes a 64-bit unsigned integer in little-endian
func WriteUint64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

// WriteString writes a length-prefixed string
// Format: [Length (uint32)][Data (N bytes UTF-8)]
func WriteString(w io.Writer, s string) error {
	if uint64(len(s)) > math.MaxUint32 {
		return ErrEncodeOverflow
	}

	if err := WriteUint32(w, uint32(len(s))); err != nil {
		return err
	}

	if len(s) > 0 {
		_, err := io.WriteString(w, s)
		return err
	}
	return nil
}

// fieldCursor reads length-prefixed strings out of a field block that is
// already fully in memory.
type fieldCursor struct {
	data []byte
	off  int
}

func (c *fieldCursor) remaining() int {
	return len(c.data) - c.off
}

// readString returns the next field. A field whose declared length runs past
// the end of the block is a corrupt frame, not a short read.
func (c *fieldCursor) readString() (string, error) {
	if c.remaining() < 4 {
		return "", errFieldOverrun
	}
	length := binary.LittleEndian.Uint32(c.data[c.off:])
	c.off += 4

	if uint64(length) > uint64(c.remaining()) {
		return "", errFieldOverrun
	}

	raw := c.data[c.off : c.off+int(length)]
	c.off += int(length)

	if !utf8.Valid(raw) {
		return "", ErrInvalidEncoding
	}
	return string(raw), nil
}

// encodeFields serializes fields into a field block.
func encodeFields(fields []string) ([]byte, error) {
	buf := new(bytes.Buffer)
	for _, f := range fields {
		if err := WriteString(buf, f); err != nil {
			return nil, err
		}
	}
	if uint64(buf.Len()) > math.MaxUint32 {
		return nil, ErrEncodeOverflow
	}
	return buf.Bytes(), nil
}
