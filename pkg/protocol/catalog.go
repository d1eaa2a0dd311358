package protocol

import "fmt"

// Catalog selects one direction of traffic. Each catalog has its own tag space.
type Catalog uint8

const (
	ClientCatalog Catalog = iota // Client → Server
	ServerCatalog                // Server → Client
)

func (c Catalog) String() string {
	switch c {
	case ClientCatalog:
		return "client"
	case ServerCatalog:
		return "server"
	default:
		return fmt.Sprintf("catalog(%d)", uint8(c))
	}
}

// ClientMessageType is a tag in the client catalog (Client → Server)
type ClientMessageType uint8

const (
	TypeChatMessage ClientMessageType = iota
	TypeChangeUsername
	TypeRequestAuthentication

	// ClientInvalidEvent stands in for any tag outside the client catalog
	ClientInvalidEvent
)

// ClientMessageTypeFromTag maps any byte to a client message type
func ClientMessageTypeFromTag(tag uint8) ClientMessageType {
	if tag >= uint8(ClientInvalidEvent) {
		return ClientInvalidEvent
	}
	return ClientMessageType(tag)
}

func (t ClientMessageType) String() string {
	switch t {
	case TypeChatMessage:
		return "CHAT_MESSAGE"
	case TypeChangeUsername:
		return "CHANGE_USERNAME"
	case TypeRequestAuthentication:
		return "REQUEST_AUTHENTICATION"
	default:
		return "INVALID_EVENT"
	}
}

// ServerMessageType is a tag in the server catalog (Server → Client)
type ServerMessageType uint8

const (
	TypeBroadcastMessage ServerMessageType = iota
	TypeAuthenticateToken

	// ServerInvalidEvent stands in for any tag outside the server catalog
	ServerInvalidEvent
)

// ServerMessageTypeFromTag maps any byte to a server message type
func ServerMessageTypeFromTag(tag uint8) ServerMessageType {
	if tag >= uint8(ServerInvalidEvent) {
		return ServerInvalidEvent
	}
	return ServerMessageType(tag)
}

func (t ServerMessageType) String() string {
	switch t {
	case TypeBroadcastMessage:
		return "BROADCAST_MESSAGE"
	case TypeAuthenticateToken:
		return "AUTHENTICATE_TOKEN"
	default:
		return "INVALID_EVENT"
	}
}

// NewMessage returns an empty message for a tag in the given catalog
func NewMessage(catalog Catalog, tag uint8) (Message, error) {
	switch catalog {
	case ClientCatalog:
		switch ClientMessageTypeFromTag(tag) {
		case TypeChatMessage:
			return &ChatMessage{}, nil
		case TypeChangeUsername:
			return &ChangeUsername{}, nil
		case TypeRequestAuthentication:
			return &RequestAuthentication{}, nil
		}
	case ServerCatalog:
		switch ServerMessageTypeFromTag(tag) {
		case TypeBroadcastMessage:
			return &BroadcastMessage{}, nil
		case TypeAuthenticateToken:
			return &AuthenticateToken{}, nil
		}
	}
	return nil, fmt.Errorf("%w: 0x%02X in %s catalog", ErrUnknownType, tag, catalog)
}

// TypeName returns a label for a tag, used in logs and metrics
func TypeName(catalog Catalog, tag uint8) string {
	if catalog == ServerCatalog {
		return ServerMessageTypeFromTag(tag).String()
	}
	return ClientMessageTypeFromTag(tag).String()
}
