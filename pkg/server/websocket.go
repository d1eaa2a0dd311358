package server

import (
	"net/http"

	"github.com/aeolun/relaychat/pkg/protocol"
	"github.com/aeolun/relaychat/pkg/wsconn"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Clients authenticate by HWID, not by origin
		return true
	},
}

// HandleWebSocket upgrades the request and serves it through the same
// session loop as TCP connections
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		debugLog.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	ws.SetReadLimit(protocol.HeaderSize + protocol.MaxFieldBlockSize)

	conn := wsconn.New(ws)
	if !s.admit() {
		conn.Close()
		return
	}
	go s.serveConn(conn, "websocket")
}
