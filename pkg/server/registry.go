package server

import (
	"sync"
	"time"

	"github.com/aeolun/relaychat/pkg/protocol"
)

// Client is the metadata held for an authenticated connection
type Client struct {
	ConnectionID uint64
	HWID         string
	DisplayName  string
	SessionToken string
	ConnectedAt  time.Time
}

type registryEntry struct {
	conn   *SafeConn
	client Client
}

// BroadcastResult reports what happened to one broadcast
type BroadcastResult struct {
	Recipients int // entries targeted
	Delivered  int
	Failed     int
}

// Registry maps HWIDs to live connections. At most one entry exists per HWID.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*registryEntry
	metrics *Metrics
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*registryEntry),
	}
}

// SetMetrics attaches metrics to the registry
func (r *Registry) SetMetrics(metrics *Metrics) {
	r.metrics = metrics
}

// Insert registers conn under hwid. If another connection already held the
// HWID it is returned so the caller can close it; the newest connection wins.
func (r *Registry) Insert(hwid string, conn *SafeConn, client Client) (*SafeConn, bool) {
	r.mu.Lock()
	prev, replaced := r.entries[hwid]
	r.entries[hwid] = &registryEntry{conn: conn, client: client}
	count := len(r.entries)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordActiveClients(count)
	}

	if !replaced || prev.conn == conn {
		return nil, false
	}
	return prev.conn, true
}

// Remove deletes the entry for hwid regardless of which connection owns it
func (r *Registry) Remove(hwid string) {
	r.mu.Lock()
	delete(r.entries, hwid)
	count := len(r.entries)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordActiveClients(count)
	}
}

// Release deletes the entry for hwid only if conn still owns it. A
// connection that was superseded by a newer login must not remove its
// successor on the way out.
func (r *Registry) Release(hwid string, conn *SafeConn) bool {
	r.mu.Lock()
	entry, ok := r.entries[hwid]
	if !ok || entry.conn != conn {
		r.mu.Unlock()
		return false
	}
	delete(r.entries, hwid)
	count := len(r.entries)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordActiveClients(count)
	}
	return true
}

// Get returns the client registered under hwid
func (r *Registry) Get(hwid string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[hwid]
	if !ok {
		return Client{}, false
	}
	return entry.client, true
}

// Rename updates the display name held for hwid
func (r *Registry) Rename(hwid, displayName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[hwid]
	if !ok {
		return false
	}
	entry.client.DisplayName = displayName
	return true
}

// Len returns the number of registered clients
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}

// Clients returns a snapshot of all registered clients
func (r *Registry) Clients() []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]Client, 0, len(r.entries))
	for _, entry := range r.entries {
		clients = append(clients, entry.client)
	}
	return clients
}

// Broadcast sends msg to every registered client except excludeHWID.
// Recipients are snapshotted under the lock and written to without it, so a
// slow client never blocks registration. A failed write closes and releases
// that recipient; delivery to the others continues.
func (r *Registry) Broadcast(excludeHWID string, msg protocol.Message) (BroadcastResult, error) {
	var result BroadcastResult

	data, err := protocol.EncodeMessage(msg)
	if err != nil {
		return result, err
	}

	type target struct {
		hwid string
		conn *SafeConn
	}

	r.mu.RLock()
	targets := make([]target, 0, len(r.entries))
	for hwid, entry := range r.entries {
		if hwid == excludeHWID {
			continue
		}
		targets = append(targets, target{hwid: hwid, conn: entry.conn})
	}
	r.mu.RUnlock()

	start := time.Now()
	result.Recipients = len(targets)

	var dead []target
	for _, t := range targets {
		if err := t.conn.WriteFrame(data); err != nil {
			debugLog.Printf("Session %d: Broadcast write failed (Type=0x%02X): %v", t.conn.ID, msg.Type(), err)
			result.Failed++
			dead = append(dead, t)
			continue
		}
		result.Delivered++
	}

	// Drop dead recipients from the broadcast pool
	for _, t := range dead {
		t.conn.Close()
		r.Release(t.hwid, t.conn)
	}

	if r.metrics != nil {
		r.metrics.RecordBroadcast(result, time.Since(start).Seconds())
		r.metrics.RecordMessagesSent(protocol.TypeName(msg.Catalog(), msg.Type()), result.Delivered)
	}

	return result, nil
}

// CloseAll closes every registered connection and empties the registry
func (r *Registry) CloseAll() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*registryEntry)
	r.mu.Unlock()

	for _, entry := range entries {
		entry.conn.Close()
	}

	if r.metrics != nil {
		r.metrics.RecordActiveClients(0)
	}
}
