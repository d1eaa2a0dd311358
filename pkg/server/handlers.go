package server

import (
	"fmt"
	"time"

	"github.com/aeolun/relaychat/pkg/protocol"
	"github.com/google/uuid"
)

// handleFrame dispatches a decoded frame according to the session state.
// A returned error closes the connection; frames that are merely out of
// place are logged and dropped.
func (sess *Session) handleFrame(frame *protocol.Frame) error {
	switch sess.state {
	case stateAwaitingAuth:
		auth, ok := frame.Message.(*protocol.RequestAuthentication)
		if !ok {
			sess.drop(frame, "unauthenticated")
			return nil
		}
		return sess.handleRequestAuthentication(auth)

	case stateAuthenticated:
		switch msg := frame.Message.(type) {
		case *protocol.ChatMessage:
			return sess.handleChatMessage(msg)
		case *protocol.ChangeUsername:
			return sess.handleChangeUsername(msg)
		case *protocol.RequestAuthentication:
			sess.drop(frame, "already_authenticated")
			return nil
		default:
			sess.drop(frame, "unexpected")
			return nil
		}
	}

	return nil
}

func (sess *Session) drop(frame *protocol.Frame, reason string) {
	debugLog.Printf("Session %d: dropping %s in state %s (%s)",
		sess.conn.ID, protocol.TypeName(protocol.ClientCatalog, frame.Type), sess.state, reason)
	sess.server.metrics.RecordFrameDropped(reason)
}

// handleRequestAuthentication issues a token and registers the client
func (sess *Session) handleRequestAuthentication(msg *protocol.RequestAuthentication) error {
	if msg.HWID == "" {
		debugLog.Printf("Session %d: authentication with empty HWID, ignoring", sess.conn.ID)
		sess.server.metrics.RecordFrameDropped("empty_hwid")
		return nil
	}

	client := Client{
		ConnectionID: sess.conn.ID,
		HWID:         msg.HWID,
		DisplayName:  NormalizeUsername(msg.Name),
		SessionToken: uuid.NewString(),
		ConnectedAt:  time.Now(),
	}

	if err := sess.send(&protocol.AuthenticateToken{Token: client.SessionToken}); err != nil {
		return fmt.Errorf("failed to send token: %w", err)
	}

	if prev, replaced := sess.server.registry.Insert(client.HWID, sess.conn, client); replaced {
		// The newest login wins
		debugLog.Printf("Session %d: %s authenticated again, closing session %d", sess.conn.ID, client.HWID, prev.ID)
		prev.Close()
		sess.server.metrics.RecordEviction()
	}

	sess.hwid = client.HWID
	sess.state = stateAuthenticated
	sess.connectionID = sess.server.store.OpenConnection(client.HWID, client.DisplayName, sess.conn.RemoteAddr().String(), sess.conn.Transport)
	sess.server.metrics.RecordAuthenticated()

	// Authenticated clients may idle
	sess.raw.SetReadDeadline(time.Time{})

	debugLog.Printf("Session %d: %s authenticated as %q", sess.conn.ID, client.HWID, client.DisplayName)
	return nil
}

// handleChatMessage relays a chat line to every other client
func (sess *Session) handleChatMessage(msg *protocol.ChatMessage) error {
	if msg.HWID != sess.hwid {
		debugLog.Printf("Session %d: chat claims HWID %q, session is %q", sess.conn.ID, msg.HWID, sess.hwid)
		sess.server.metrics.RecordFrameDropped("hwid_mismatch")
		return nil
	}

	client, ok := sess.server.registry.Get(sess.hwid)
	if !ok || client.ConnectionID != sess.conn.ID {
		// Superseded; this connection is about to close
		return nil
	}

	sender := client.DisplayName
	if sender == "" {
		sender = client.HWID
	}

	result, err := sess.server.registry.Broadcast(sess.hwid, &protocol.BroadcastMessage{
		Sender:  sender,
		Content: msg.Content,
	})
	if err != nil {
		// Only an oversized message can fail to encode; drop it
		debugLog.Printf("Session %d: broadcast not sent: %v", sess.conn.ID, err)
		sess.server.metrics.RecordFrameDropped("encode")
		return nil
	}

	debugLog.Printf("Session %d: %s --> %d/%d recipients", sess.conn.ID, sender, result.Delivered, result.Recipients)
	return nil
}

// handleChangeUsername updates the display name used for later broadcasts
func (sess *Session) handleChangeUsername(msg *protocol.ChangeUsername) error {
	if msg.HWID != sess.hwid {
		debugLog.Printf("Session %d: rename claims HWID %q, session is %q", sess.conn.ID, msg.HWID, sess.hwid)
		sess.server.metrics.RecordFrameDropped("hwid_mismatch")
		return nil
	}

	client, ok := sess.server.registry.Get(sess.hwid)
	if !ok || client.ConnectionID != sess.conn.ID {
		return nil
	}

	name := NormalizeUsername(msg.NewUsername)
	sess.server.registry.Rename(sess.hwid, name)
	debugLog.Printf("Session %d: %s changed their username to %q", sess.conn.ID, sess.hwid, name)
	return nil
}
