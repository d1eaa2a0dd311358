package protocol

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"testing"

	"pgregory.net/rapid"
)

// genMessage draws any message from either catalog with arbitrary UTF-8 fields
func genMessage() *rapid.Generator[Message] {
	str := rapid.StringN(0, 64, -1)
	return rapid.Custom(func(t *rapid.T) Message {
		switch rapid.IntRange(0, 4).Draw(t, "variant") {
		case 0:
			return &ChatMessage{HWID: str.Draw(t, "hwid"), Content: str.Draw(t, "content")}
		case 1:
			return &ChangeUsername{HWID: str.Draw(t, "hwid"), NewUsername: str.Draw(t, "name")}
		case 2:
			return &RequestAuthentication{HWID: str.Draw(t, "hwid"), Name: str.Draw(t, "name")}
		case 3:
			return &BroadcastMessage{Sender: str.Draw(t, "sender"), Content: str.Draw(t, "content")}
		default:
			return &AuthenticateToken{Token: str.Draw(t, "token")}
		}
	})
}

// TestFrameRoundTrip checks that any message decodes back to an equal message
func TestFrameRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		msg := genMessage().Draw(t, "msg")

		data, err := EncodeMessage(msg)
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}

		frame, n, err := DecodeFrame(data, msg.Catalog())
		if err != nil {
			t.Fatalf("decode failed: %v", err)
		}
		if n != len(data) {
			t.Fatalf("consumed %d bytes, frame is %d", n, len(data))
		}
		if !reflect.DeepEqual(frame.Message, msg) {
			t.Fatalf("round trip mismatch: got %#v, want %#v", frame.Message, msg)
		}
	})
}

// TestTruncatedPrefix checks that every strict prefix of a frame asks for more bytes
func TestTruncatedPrefix(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		msg := genMessage().Draw(t, "msg")
		data, err := EncodeMessage(msg)
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}

		cut := rapid.IntRange(0, len(data)-1).Draw(t, "cut")
		_, _, err = DecodeFrame(data[:cut], msg.Catalog())
		if !errors.Is(err, ErrTruncatedFrame) {
			t.Fatalf("prefix of %d/%d bytes: got %v, want ErrTruncatedFrame", cut, len(data), err)
		}
		if errors.Is(err, ErrCorruptFrame) {
			t.Fatalf("prefix of %d/%d bytes reported corrupt: %v", cut, len(data), err)
		}
	})
}

// TestBitFlipDetected checks that flipping any bit of the field block fails the checksum
func TestBitFlipDetected(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		msg := genMessage().Draw(t, "msg")
		data, err := EncodeMessage(msg)
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}
		if len(data) == HeaderSize {
			t.Skip("empty field block")
		}

		pos := rapid.IntRange(HeaderSize, len(data)-1).Draw(t, "pos")
		bit := rapid.IntRange(0, 7).Draw(t, "bit")
		data[pos] ^= 1 << bit

		_, _, err = DecodeFrame(data, msg.Catalog())
		if !errors.Is(err, ErrChecksumMismatch) {
			t.Fatalf("flip at %d bit %d: got %v, want ErrChecksumMismatch", pos, bit, err)
		}
	})
}

// TestCatalogIsolation checks that decoding never yields a message from the other catalog
func TestCatalogIsolation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		msg := genMessage().Draw(t, "msg")
		data, err := EncodeMessage(msg)
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}

		other := ClientCatalog
		if msg.Catalog() == ClientCatalog {
			other = ServerCatalog
		}

		frame, _, err := DecodeFrame(data, other)
		if err == nil && frame.Message.Catalog() != other {
			t.Fatalf("decoded %T under %s catalog", frame.Message, other)
		}
	})
}

// TestStreamSplitting checks that frames survive arbitrary read boundaries
func TestStreamSplitting(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		count := rapid.IntRange(1, 8).Draw(t, "count")
		var stream []byte
		var want []Message
		for i := 0; i < count; i++ {
			msg := genMessage().Filter(func(m Message) bool {
				return m.Catalog() == ClientCatalog
			}).Draw(t, "msg")
			data, err := EncodeMessage(msg)
			if err != nil {
				t.Fatalf("encode failed: %v", err)
			}
			stream = append(stream, data...)
			want = append(want, msg)
		}

		chunk := rapid.IntRange(1, 64).Draw(t, "chunk")
		fr := NewFrameReader(bytes.NewReader(stream), ClientCatalog, chunk)
		for i, w := range want {
			frame, err := fr.Next()
			if err != nil {
				t.Fatalf("frame %d: %v", i, err)
			}
			if !reflect.DeepEqual(frame.Message, w) {
				t.Fatalf("frame %d: got %#v, want %#v", i, frame.Message, w)
			}
		}
		if _, err := fr.Next(); !errors.Is(err, io.EOF) {
			t.Fatalf("after last frame: got %v, want EOF", err)
		}
	})
}

// TestWriteStringRoundTrip checks the length prefix against any string
func TestWriteStringRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := rapid.String().Draw(t, "s")
		buf := new(bytes.Buffer)
		if err := WriteString(buf, s); err != nil {
			t.Fatalf("write failed: %v", err)
		}
		cur := &fieldCursor{data: buf.Bytes()}
		got, err := cur.readString()
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}
		if got != s || cur.remaining() != 0 {
			t.Fatalf("got %q with %d left, want %q", got, cur.remaining(), s)
		}
	})
}
