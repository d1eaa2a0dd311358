package protocol

import "fmt"

// Message is implemented by every variant in both catalogs. The field list is
// fixed per variant and is written and read in exactly the order Fields returns.
type Message interface {
	// Catalog reports which direction the message travels
	Catalog() Catalog
	// Type returns the tag within that catalog
	Type() uint8
	// Fields returns the string fields in wire order
	Fields() []string
	// SetFields fills the message from decoded fields in wire order
	SetFields(fields []string) error
}

func checkFieldCount(msg Message, fields []string, want int) error {
	if len(fields) != want {
		return fmt.Errorf("%T expects %d fields, got %d", msg, want, len(fields))
	}
	return nil
}

// ChatMessage (client 0) - Post a line of chat
type ChatMessage struct {
	HWID    string
	Content string
}

func (m *ChatMessage) Catalog() Catalog { return ClientCatalog }
func (m *ChatMessage) Type() uint8      { return uint8(TypeChatMessage) }
func (m *ChatMessage) Fields() []string { return []string{m.HWID, m.Content} }

func (m *ChatMessage) SetFields(fields []string) error {
	if err := checkFieldCount(m, fields, 2); err != nil {
		return err
	}
	m.HWID = fields[0]
	m.Content = fields[1]
	return nil
}

// ChangeUsername (client 1) - Change the display name
type ChangeUsername struct {
	HWID        string
	NewUsername string
}

func (m *ChangeUsername) Catalog() Catalog { return ClientCatalog }
func (m *ChangeUsername) Type() uint8      { return uint8(TypeChangeUsername) }
func (m *ChangeUsername) Fields() []string { return []string{m.HWID, m.NewUsername} }

func (m *ChangeUsername) SetFields(fields []string) error {
	if err := checkFieldCount(m, fields, 2); err != nil {
		return err
	}
	m.HWID = fields[0]
	m.NewUsername = fields[1]
	return nil
}

// RequestAuthentication (client 2) - First frame on every connection
type RequestAuthentication struct {
	HWID string
	Name string
}

func (m *RequestAuthentication) Catalog() Catalog { return ClientCatalog }
func (m *RequestAuthentication) Type() uint8      { return uint8(TypeRequestAuthentication) }
func (m *RequestAuthentication) Fields() []string { return []string{m.HWID, m.Name} }

func (m *RequestAuthentication) SetFields(fields []string) error {
	if err := checkFieldCount(m, fields, 2); err != nil {
		return err
	}
	m.HWID = fields[0]
	m.Name = fields[1]
	return nil
}

// BroadcastMessage (server 0) - Chat line from another client
type BroadcastMessage struct {
	Sender  string // display name, or HWID when the sender has none
	Content string
}

func (m *BroadcastMessage) Catalog() Catalog { return ServerCatalog }
func (m *BroadcastMessage) Type() uint8      { return uint8(TypeBroadcastMessage) }
func (m *BroadcastMessage) Fields() []string { return []string{m.Sender, m.Content} }

func (m *BroadcastMessage) SetFields(fields []string) error {
	if err := checkFieldCount(m, fields, 2); err != nil {
		return err
	}
	m.Sender = fields[0]
	m.Content = fields[1]
	return nil
}

// AuthenticateToken (server 1) - Session token issued after authentication
type AuthenticateToken struct {
	Token string
}

func (m *AuthenticateToken) Catalog() Catalog { return ServerCatalog }
func (m *AuthenticateToken) Type() uint8      { return uint8(TypeAuthenticateToken) }
func (m *AuthenticateToken) Fields() []string { return []string{m.Token} }

func (m *AuthenticateToken) SetFields(fields []string) error {
	if err := checkFieldCount(m, fields, 1); err != nil {
		return err
	}
	m.Token = fields[0]
	return nil
}
