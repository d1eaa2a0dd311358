package server

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/aeolun/relaychat/pkg/protocol"
)

type sessionState int

const (
	stateAwaitingAuth sessionState = iota
	stateAuthenticated
	stateClosed
)

func (s sessionState) String() string {
	switch s {
	case stateAwaitingAuth:
		return "awaiting_auth"
	case stateAuthenticated:
		return "authenticated"
	default:
		return "closed"
	}
}

// Session drives one connection: authentication first, then chat
type Session struct {
	server *Server
	raw    net.Conn
	conn   *SafeConn
	reader *protocol.FrameReader

	state        sessionState
	hwid         string
	connectionID int64 // client directory record, set on authentication
}

func newSession(s *Server, raw net.Conn, conn *SafeConn) *Session {
	return &Session{
		server: s,
		raw:    raw,
		conn:   conn,
		reader: protocol.NewFrameReader(raw, protocol.ClientCatalog, s.config.ReadBufferSize),
		state:  stateAwaitingAuth,
	}
}

// run reads frames until the connection ends. Only this connection is
// affected by anything that goes wrong here.
func (sess *Session) run() {
	defer sess.close()

	if timeout := sess.server.config.AuthTimeout; timeout > 0 {
		sess.raw.SetReadDeadline(time.Now().Add(timeout))
	}

	for {
		frame, err := sess.reader.Next()
		if err != nil {
			if errors.Is(err, protocol.ErrUnknownType) {
				debugLog.Printf("Session %d: ignoring frame: %v", sess.conn.ID, err)
				sess.server.metrics.RecordDecodeError(err)
				continue
			}
			sess.logReadError(err)
			return
		}

		debugLog.Printf("Session %d ← RECV: Type=0x%02X (%s) Timestamp=%d",
			sess.conn.ID, frame.Type, protocol.TypeName(protocol.ClientCatalog, frame.Type), frame.Timestamp)
		sess.server.metrics.RecordFrameReceived(protocol.TypeName(protocol.ClientCatalog, frame.Type))

		if err := sess.handleFrame(frame); err != nil {
			errorLog.Printf("Session %d: %v", sess.conn.ID, err)
			return
		}
	}
}

func (sess *Session) logReadError(err error) {
	var netErr net.Error
	switch {
	case sess.conn.IsClosed():
		// Evicted by a newer login, dropped after a failed broadcast, or server stopping
		debugLog.Printf("Session %d closed", sess.conn.ID)
	case errors.Is(err, io.EOF):
		debugLog.Printf("Session %d disconnected", sess.conn.ID)
	case sess.state == stateAwaitingAuth && errors.As(err, &netErr) && netErr.Timeout():
		debugLog.Printf("Session %d: no authentication within %v, closing", sess.conn.ID, sess.server.config.AuthTimeout)
		sess.server.metrics.RecordAuthTimeout()
	case errors.Is(err, io.ErrUnexpectedEOF):
		debugLog.Printf("Session %d disconnected mid-frame (%d bytes buffered)", sess.conn.ID, sess.reader.Buffered())
	default:
		// Framing errors leave the stream unaligned
		errorLog.Printf("Session %d read error: %v", sess.conn.ID, err)
		sess.server.metrics.RecordDecodeError(err)
	}
}

// close releases the registry entry, if this connection still owns it, and
// closes the connection
func (sess *Session) close() {
	if sess.state == stateAuthenticated {
		if sess.server.registry.Release(sess.hwid, sess.conn) {
			debugLog.Printf("Session %d: released %s", sess.conn.ID, sess.hwid)
		}
		sess.server.store.CloseConnection(sess.connectionID)
	}
	sess.state = stateClosed
	sess.conn.Close()
	sess.server.metrics.RecordDisconnected()
}

// send writes msg to this session's own connection
func (sess *Session) send(msg protocol.Message) error {
	debugLog.Printf("Session %d → SEND: Type=0x%02X (%s)",
		sess.conn.ID, msg.Type(), protocol.TypeName(msg.Catalog(), msg.Type()))

	if err := sess.conn.WriteMessage(msg); err != nil {
		return err
	}
	sess.server.metrics.RecordMessagesSent(protocol.TypeName(msg.Catalog(), msg.Type()), 1)
	return nil
}
