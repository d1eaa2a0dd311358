package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"time"
)

const (
	// HeaderSize is the fixed frame header: Type (1) + Timestamp (8) + Checksum (4) + Length (4)
	HeaderSize = 1 + 8 + 4 + 4

	// MaxFieldBlockSize is the maximum allowed field block size (1 MB)
	MaxFieldBlockSize = 1024 * 1024
)

var (
	ErrTruncatedFrame   = errors.New("truncated frame")
	ErrUnknownType      = errors.New("unknown message type")
	ErrChecksumMismatch = errors.New("field block checksum mismatch")
	ErrFrameTooLarge    = errors.New("field block exceeds maximum size (1 MB)")
	ErrCorruptFrame     = errors.New("corrupt frame")

	errFieldOverrun  = fmt.Errorf("field overruns field block: %w: %w", ErrTruncatedFrame, ErrCorruptFrame)
	errTrailingBytes = fmt.Errorf("trailing bytes after last field: %w", ErrCorruptFrame)
)

// now is swapped in tests to pin frame timestamps.
var now = time.Now

// Frame is a decoded protocol frame
// Format: [Type (1)][Timestamp (8)][CRC-32 (4)][Length (4)][Field block (Length bytes)]
type Frame struct {
	Type      uint8
	Timestamp uint64 // Unix seconds
	Checksum  uint32 // CRC-32 (IEEE) of the field block
	Message   Message
}

// Time returns the frame timestamp as a time.Time
func (f *Frame) Time() time.Time {
	return time.Unix(int64(f.Timestamp), 0)
}

// EncodeFrame writes msg to w as a single frame stamped with the current time
func EncodeFrame(w io.Writer, msg Message) error {
	return EncodeFrameAt(w, msg, now())
}

// EncodeFrameAt writes msg to w as a single frame stamped with ts.
// The frame is assembled in memory first so it reaches w in one Write.
func EncodeFrameAt(w io.Writer, msg Message, ts time.Time) error {
	block, err := encodeFields(msg.Fields())
	if err != nil {
		return err
	}

	if len(block) > MaxFieldBlockSize {
		return ErrFrameTooLarge
	}

	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize+len(block)))
	WriteUint8(buf, msg.Type())
	WriteUint64(buf, uint64(ts.Unix()))
	WriteUint32(buf, crc32.ChecksumIEEE(block))
	WriteUint32(buf, uint32(len(block)))
	buf.Write(block)

	_, err = w.Write(buf.Bytes())
	return err
}

// EncodeMessage is a helper that encodes a message to a byte slice
func EncodeMessage(msg Message) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := EncodeFrame(buf, msg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeFrame decodes the frame at the front of data using the given catalog.
// It returns the frame and the number of bytes it occupied. Bytes after the
// frame are left alone so several frames can be decoded from one buffer.
//
// ErrTruncatedFrame without ErrCorruptFrame means data holds only a prefix of
// a frame and more bytes may complete it.
func DecodeFrame(data []byte, catalog Catalog) (*Frame, int, error) {
	if len(data) == 0 {
		return nil, 0, ErrTruncatedFrame
	}

	msgType := data[0]
	msg, err := NewMessage(catalog, msgType)
	if err != nil {
		return nil, 0, err
	}

	total, err := PeekFrameSize(data)
	if err != nil {
		return nil, 0, err
	}
	if len(data) < total {
		return nil, 0, ErrTruncatedFrame
	}

	timestamp := binary.LittleEndian.Uint64(data[1:9])
	checksum := binary.LittleEndian.Uint32(data[9:13])
	block := data[HeaderSize:total]

	if crc32.ChecksumIEEE(block) != checksum {
		return nil, 0, ErrChecksumMismatch
	}

	cur := &fieldCursor{data: block}
	fields := make([]string, len(msg.Fields()))
	for i := range fields {
		s, err := cur.readString()
		if err != nil {
			return nil, 0, err
		}
		fields[i] = s
	}

	if cur.remaining() != 0 {
		return nil, 0, errTrailingBytes
	}

	if err := msg.SetFields(fields); err != nil {
		return nil, 0, err
	}

	return &Frame{
		Type:      msgType,
		Timestamp: timestamp,
		Checksum:  checksum,
		Message:   msg,
	}, total, nil
}

// DecodeMessage is a helper that decodes exactly one frame from data.
// Bytes left over after the frame are a framing error.
func DecodeMessage(data []byte, catalog Catalog) (*Frame, error) {
	frame, n, err := DecodeFrame(data, catalog)
	if err != nil {
		return nil, err
	}
	if n != len(data) {
		return nil, fmt.Errorf("%d bytes after frame: %w", len(data)-n, ErrCorruptFrame)
	}
	return frame, nil
}

// PeekFrameSize returns the total size of the frame at the front of data,
// header included. It needs only the header, not the field block.
func PeekFrameSize(data []byte) (int, error) {
	if len(data) < HeaderSize {
		return 0, ErrTruncatedFrame
	}

	length := binary.LittleEndian.Uint32(data[13:17])
	if length > MaxFieldBlockSize {
		return 0, ErrFrameTooLarge
	}

	return HeaderSize + int(length), nil
}
