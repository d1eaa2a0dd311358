package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func allMessages() []Message {
	return []Message{
		&ChatMessage{},
		&ChangeUsername{},
		&RequestAuthentication{},
		&BroadcastMessage{},
		&AuthenticateToken{},
	}
}

func TestMessageTags(t *testing.T) {
	assert.Equal(t, uint8(0), (&ChatMessage{}).Type())
	assert.Equal(t, uint8(1), (&ChangeUsername{}).Type())
	assert.Equal(t, uint8(2), (&RequestAuthentication{}).Type())
	assert.Equal(t, uint8(0), (&BroadcastMessage{}).Type())
	assert.Equal(t, uint8(1), (&AuthenticateToken{}).Type())
}

func TestTagsUniquePerCatalog(t *testing.T) {
	seen := map[Catalog]map[uint8]Message{}
	for _, msg := range allMessages() {
		if seen[msg.Catalog()] == nil {
			seen[msg.Catalog()] = map[uint8]Message{}
		}
		prev, dup := seen[msg.Catalog()][msg.Type()]
		assert.False(t, dup, "%T collides with %T", msg, prev)
		seen[msg.Catalog()][msg.Type()] = msg
	}
}

func TestNewMessageMatchesCatalog(t *testing.T) {
	for _, want := range allMessages() {
		got, err := NewMessage(want.Catalog(), want.Type())
		require.NoError(t, err)
		assert.IsType(t, want, got)
		assert.Equal(t, want.Catalog(), got.Catalog())
	}
}

func TestMessageTypeFromTagIsTotal(t *testing.T) {
	for tag := 0; tag <= 255; tag++ {
		ct := ClientMessageTypeFromTag(uint8(tag))
		st := ServerMessageTypeFromTag(uint8(tag))

		if tag < 3 {
			assert.Equal(t, ClientMessageType(tag), ct)
		} else {
			assert.Equal(t, ClientInvalidEvent, ct)
		}

		if tag < 2 {
			assert.Equal(t, ServerMessageType(tag), st)
		} else {
			assert.Equal(t, ServerInvalidEvent, st)
		}
	}
}

func TestNewMessageUnknownTag(t *testing.T) {
	_, err := NewMessage(ClientCatalog, 3)
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = NewMessage(ServerCatalog, 2)
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = NewMessage(Catalog(9), 0)
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestTypeName(t *testing.T) {
	assert.Equal(t, "CHAT_MESSAGE", TypeName(ClientCatalog, 0))
	assert.Equal(t, "REQUEST_AUTHENTICATION", TypeName(ClientCatalog, 2))
	assert.Equal(t, "BROADCAST_MESSAGE", TypeName(ServerCatalog, 0))
	assert.Equal(t, "AUTHENTICATE_TOKEN", TypeName(ServerCatalog, 1))
	assert.Equal(t, "INVALID_EVENT", TypeName(ServerCatalog, 2))
	assert.Equal(t, "INVALID_EVENT", TypeName(ClientCatalog, 0xFF))
}

func TestSetFieldsCount(t *testing.T) {
	for _, msg := range allMessages() {
		n := len(msg.Fields())
		assert.Error(t, msg.SetFields(make([]string, n+1)), "%T", msg)
		assert.NoError(t, msg.SetFields(make([]string, n)), "%T", msg)
	}
}

func TestFieldOrder(t *testing.T) {
	assert.Equal(t, []string{"H1", "hello"}, (&ChatMessage{HWID: "H1", Content: "hello"}).Fields())
	assert.Equal(t, []string{"H1", "bob"}, (&ChangeUsername{HWID: "H1", NewUsername: "bob"}).Fields())
	assert.Equal(t, []string{"H1", "Alice"}, (&RequestAuthentication{HWID: "H1", Name: "Alice"}).Fields())
	assert.Equal(t, []string{"Alice", "hi"}, (&BroadcastMessage{Sender: "Alice", Content: "hi"}).Fields())
	assert.Equal(t, []string{"tok"}, (&AuthenticateToken{Token: "tok"}).Fields())
}
