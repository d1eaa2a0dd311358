package database

import (
	"log"
	"sync"
	"time"
)

// WriteBuffer batches directory writes so the connection path never waits on SQLite
type WriteBuffer struct {
	db            *DB
	flushInterval time.Duration
	flushMu       sync.Mutex // one flush at a time, so Flush waits for one in progress

	// Connection opens (client upsert + connection insert)
	openMu sync.Mutex
	opens  []*pendingOpen

	// Connection closes
	closeMu sync.Mutex
	closes  map[int64]int64 // connectionID -> disconnected_at

	// Shutdown
	shutdown  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type pendingOpen struct {
	id          int64
	hwid        string
	displayName string
	remoteAddr  string
	transport   string
	timestamp   int64
}

// NewWriteBuffer creates a new write buffer with the given flush interval
func NewWriteBuffer(db *DB, flushInterval time.Duration) *WriteBuffer {
	wb := &WriteBuffer{
		db:            db,
		flushInterval: flushInterval,
		opens:         make([]*pendingOpen, 0, 50),
		closes:        make(map[int64]int64),
		shutdown:      make(chan struct{}),
	}

	// Start flush loop
	wb.wg.Add(1)
	go wb.flushLoop()

	return wb
}

// OpenConnection queues a connection record. The ID is assigned immediately
// so the caller never blocks on a flush.
func (wb *WriteBuffer) OpenConnection(hwid, displayName, remoteAddr, transport string) int64 {
	id := wb.db.snowflake.NextID()

	wb.openMu.Lock()
	wb.opens = append(wb.opens, &pendingOpen{
		id:          id,
		hwid:        hwid,
		displayName: displayName,
		remoteAddr:  remoteAddr,
		transport:   transport,
		timestamp:   nowMillis(),
	})
	wb.openMu.Unlock()

	return id
}

// CloseConnection queues the disconnect time for a connection
func (wb *WriteBuffer) CloseConnection(connectionID int64) {
	wb.closeMu.Lock()
	wb.closes[connectionID] = nowMillis()
	wb.closeMu.Unlock()
}

// Flush writes everything queued so far
func (wb *WriteBuffer) Flush() {
	wb.flush()
}

// flushLoop periodically flushes buffered writes
func (wb *WriteBuffer) flushLoop() {
	defer wb.wg.Done()

	ticker := time.NewTicker(wb.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			wb.flush()
		case <-wb.shutdown:
			// Final flush on shutdown
			wb.flush()
			return
		}
	}
}

// flush writes all buffered updates to the database in a single transaction
func (wb *WriteBuffer) flush() {
	wb.flushMu.Lock()
	defer wb.flushMu.Unlock()

	start := time.Now()

	wb.openMu.Lock()
	opens := wb.opens
	wb.opens = make([]*pendingOpen, 0, 50)
	wb.openMu.Unlock()

	wb.closeMu.Lock()
	closes := wb.closes
	wb.closes = make(map[int64]int64)
	wb.closeMu.Unlock()

	// Nothing to do
	if len(opens) == 0 && len(closes) == 0 {
		return
	}

	tx, err := wb.db.writeConn.Begin()
	if err != nil {
		log.Printf("WriteBuffer: failed to begin transaction: %v", err)
		wb.requeue(opens, closes)
		return
	}
	defer tx.Rollback()

	// 1. Client upserts and connection inserts, in arrival order
	if len(opens) > 0 {
		upsert, err := tx.Prepare(`
			INSERT INTO clients (hwid, display_name, first_connection, last_connection, connection_count, last_remote_addr)
			VALUES (?, ?, ?, ?, 1, ?)
			ON CONFLICT(hwid) DO UPDATE SET
				display_name = excluded.display_name,
				last_connection = excluded.last_connection,
				connection_count = connection_count + 1,
				last_remote_addr = excluded.last_remote_addr
		`)
		if err != nil {
			log.Printf("WriteBuffer: failed to prepare client upsert: %v", err)
			wb.requeue(opens, closes)
			return
		}
		defer upsert.Close()

		insert, err := tx.Prepare(`
			INSERT INTO connections (id, hwid, remote_addr, transport, connected_at)
			VALUES (?, ?, ?, ?, ?)
		`)
		if err != nil {
			log.Printf("WriteBuffer: failed to prepare connection insert: %v", err)
			wb.requeue(opens, closes)
			return
		}
		defer insert.Close()

		for _, o := range opens {
			if _, err := upsert.Exec(o.hwid, o.displayName, o.timestamp, o.timestamp, o.remoteAddr); err != nil {
				log.Printf("WriteBuffer: failed to upsert client %s: %v", o.hwid, err)
				continue
			}
			if _, err := insert.Exec(o.id, o.hwid, o.remoteAddr, o.transport, o.timestamp); err != nil {
				log.Printf("WriteBuffer: failed to insert connection %d: %v", o.id, err)
			}
		}
	}

	// 2. Disconnects
	if len(closes) > 0 {
		stmt, err := tx.Prepare(`UPDATE connections SET disconnected_at = ? WHERE id = ? AND disconnected_at IS NULL`)
		if err != nil {
			log.Printf("WriteBuffer: failed to prepare disconnect statement: %v", err)
		} else {
			defer stmt.Close()
			for id, ts := range closes {
				if _, err := stmt.Exec(ts, id); err != nil {
					log.Printf("WriteBuffer: failed to close connection %d: %v", id, err)
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		log.Printf("WriteBuffer: failed to commit transaction: %v", err)
		wb.requeue(opens, closes)
		return
	}

	// Only log slow flushes (those that exceed the flush interval)
	if elapsed := time.Since(start); elapsed > wb.flushInterval {
		log.Printf("WriteBuffer: flushed %d items (open:%d, close:%d) total=%v",
			len(opens)+len(closes), len(opens), len(closes), elapsed)
	}
}

// requeue puts a failed batch back in front of anything queued since
func (wb *WriteBuffer) requeue(opens []*pendingOpen, closes map[int64]int64) {
	wb.openMu.Lock()
	wb.opens = append(opens, wb.opens...)
	wb.openMu.Unlock()

	wb.closeMu.Lock()
	for id, ts := range closes {
		if _, ok := wb.closes[id]; !ok {
			wb.closes[id] = ts
		}
	}
	wb.closeMu.Unlock()
}

// Close shuts down the write buffer and flushes remaining writes
func (wb *WriteBuffer) Close() {
	wb.closeOnce.Do(func() {
		close(wb.shutdown)
		wb.wg.Wait()
	})
}
