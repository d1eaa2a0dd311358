package database

import (
	"errors"
	"path/filepath"
	"testing"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenConnectionCreatesClient(t *testing.T) {
	db := newTestDB(t)

	id := db.OpenConnection("hwid-1", "Alice", "127.0.0.1:5000", "tcp")
	if id <= 0 {
		t.Fatalf("expected positive connection id, got %d", id)
	}
	db.WriteBuffer.Flush()

	client, err := db.GetClient("hwid-1")
	if err != nil {
		t.Fatalf("GetClient failed: %v", err)
	}
	if client.DisplayName != "Alice" {
		t.Errorf("expected display name Alice, got %q", client.DisplayName)
	}
	if client.ConnectionCount != 1 {
		t.Errorf("expected 1 connection, got %d", client.ConnectionCount)
	}
	if client.FirstConnection != client.LastConnection {
		t.Errorf("first and last connection differ on first visit: %d vs %d", client.FirstConnection, client.LastConnection)
	}
	if client.LastRemoteAddr != "127.0.0.1:5000" {
		t.Errorf("unexpected remote addr %q", client.LastRemoteAddr)
	}

	conns, err := db.ListConnections("hwid-1", 10)
	if err != nil {
		t.Fatalf("ListConnections failed: %v", err)
	}
	if len(conns) != 1 || conns[0].ID != id {
		t.Fatalf("expected connection %d, got %+v", id, conns)
	}
	if conns[0].DisconnectedAt != nil {
		t.Errorf("new connection already marked disconnected")
	}
}

func TestReturningClient(t *testing.T) {
	db := newTestDB(t)

	db.OpenConnection("hwid-1", "Alice", "127.0.0.1:5000", "tcp")
	db.WriteBuffer.Flush()
	first, err := db.GetClient("hwid-1")
	if err != nil {
		t.Fatalf("GetClient failed: %v", err)
	}

	db.OpenConnection("hwid-1", "Alicia", "127.0.0.1:6000", "websocket")
	db.WriteBuffer.Flush()
	second, err := db.GetClient("hwid-1")
	if err != nil {
		t.Fatalf("GetClient failed: %v", err)
	}

	if second.ConnectionCount != 2 {
		t.Errorf("expected 2 connections, got %d", second.ConnectionCount)
	}
	if second.FirstConnection != first.FirstConnection {
		t.Errorf("first connection changed: %d -> %d", first.FirstConnection, second.FirstConnection)
	}
	if second.LastConnection < first.LastConnection {
		t.Errorf("last connection went backwards")
	}
	if second.DisplayName != "Alicia" {
		t.Errorf("expected latest display name, got %q", second.DisplayName)
	}

	count, err := db.CountClients()
	if err != nil {
		t.Fatalf("CountClients failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 client, got %d", count)
	}
}

func TestCloseConnection(t *testing.T) {
	db := newTestDB(t)

	id := db.OpenConnection("hwid-1", "Alice", "127.0.0.1:5000", "tcp")
	// Open and close land in the same flush
	db.CloseConnection(id)
	db.WriteBuffer.Flush()

	conns, err := db.ListConnections("hwid-1", 10)
	if err != nil {
		t.Fatalf("ListConnections failed: %v", err)
	}
	if len(conns) != 1 {
		t.Fatalf("expected 1 connection, got %d", len(conns))
	}
	if conns[0].DisconnectedAt == nil {
		t.Fatalf("connection not marked disconnected")
	}

	open, err := db.CountOpenConnections()
	if err != nil {
		t.Fatalf("CountOpenConnections failed: %v", err)
	}
	if open != 0 {
		t.Errorf("expected 0 open connections, got %d", open)
	}
}

func TestGetClientNotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetClient("missing")
	if !errors.Is(err, ErrClientNotFound) {
		t.Fatalf("expected ErrClientNotFound, got %v", err)
	}
}

func TestListClientsOrder(t *testing.T) {
	db := newTestDB(t)

	for _, hwid := range []string{"a", "b", "c"} {
		db.OpenConnection(hwid, hwid, "127.0.0.1:1", "tcp")
		db.WriteBuffer.Flush()
		// Distinct last_connection values
		waitNextMillisecond()
	}

	clients, err := db.ListClients(2)
	if err != nil {
		t.Fatalf("ListClients failed: %v", err)
	}
	if len(clients) != 2 {
		t.Fatalf("expected 2 clients, got %d", len(clients))
	}
	if clients[0].HWID != "c" || clients[1].HWID != "b" {
		t.Errorf("expected [c b], got [%s %s]", clients[0].HWID, clients[1].HWID)
	}
}

func TestDanglingConnectionsClosedOnOpen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	db.OpenConnection("hwid-1", "Alice", "127.0.0.1:5000", "tcp")
	// Close flushes, but the connection is never marked disconnected
	db.Close()

	db, err = Open(dbPath)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer db.Close()

	open, err := db.CountOpenConnections()
	if err != nil {
		t.Fatalf("CountOpenConnections failed: %v", err)
	}
	if open != 0 {
		t.Errorf("expected dangling connection to be closed, %d still open", open)
	}
}

func waitNextMillisecond() {
	start := nowMillis()
	for nowMillis() == start {
	}
}
