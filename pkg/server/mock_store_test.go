package server

import (
	"sync"
)

type mockConnection struct {
	hwid        string
	displayName string
	remoteAddr  string
	transport   string
	closed      bool
}

// mockStore is an in-memory ClientStore for tests
type mockStore struct {
	mu     sync.Mutex
	conns  map[int64]*mockConnection
	nextID int64
	closed bool
}

func newMockStore() *mockStore {
	return &mockStore{
		conns:  make(map[int64]*mockConnection),
		nextID: 1,
	}
}

func (m *mockStore) OpenConnection(hwid, displayName, remoteAddr, transport string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.conns[id] = &mockConnection{hwid: hwid, displayName: displayName, remoteAddr: remoteAddr, transport: transport}
	return id
}

func (m *mockStore) CloseConnection(connectionID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.conns[connectionID]; ok {
		c.closed = true
	}
}

func (m *mockStore) CountClients() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool)
	for _, c := range m.conns {
		seen[c.hwid] = true
	}
	return int64(len(seen)), nil
}

func (m *mockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// openCount returns connections not yet closed
func (m *mockStore) openCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, c := range m.conns {
		if !c.closed {
			n++
		}
	}
	return n
}

func (m *mockStore) connectionsFor(hwid string) []mockConnection {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []mockConnection
	for _, c := range m.conns {
		if c.hwid == hwid {
			out = append(out, *c)
		}
	}
	return out
}
