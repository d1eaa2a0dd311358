package database

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrClientNotFound indicates no client with that HWID has ever authenticated.
	ErrClientNotFound = errors.New("client not found")
)

// pragmas applied to every connection
var pragmas = []string{
	// WAL allows multiple readers and one writer at the same time
	"PRAGMA journal_mode = WAL",
	// Wait and retry instead of failing immediately with SQLITE_BUSY
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = ON",
	"PRAGMA synchronous = NORMAL",
}

// DB wraps the SQLite client directory
type DB struct {
	conn        *sql.DB // Read connection pool
	writeConn   *sql.DB // Dedicated write connection (1 connection)
	snowflake   *Snowflake
	WriteBuffer *WriteBuffer
}

// Client is a known client, keyed by hardware identifier
type Client struct {
	HWID            string
	DisplayName     string // Name used on the most recent authentication
	FirstConnection int64  // Unix timestamp in milliseconds
	LastConnection  int64  // Unix timestamp in milliseconds
	ConnectionCount int64
	LastRemoteAddr  string
}

// Connection is one entry in the connection log
type Connection struct {
	ID             int64
	HWID           string
	RemoteAddr     string
	Transport      string // "tcp" or "websocket"
	ConnectedAt    int64  // Unix timestamp in milliseconds
	DisconnectedAt *int64 // nil while the connection is open
}

// Open opens the SQLite database at the given path and brings the schema up to date
func Open(path string) (*DB, error) {
	conn, err := openPool(path)
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	writeConn, err := openPool(path)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open write connection: %w", err)
	}
	writeConn.SetMaxOpenConns(1)
	writeConn.SetMaxIdleConns(1)
	writeConn.SetConnMaxLifetime(0)

	if err := runMigrations(conn, path); err != nil {
		conn.Close()
		writeConn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	// Snowflake epoch: 2024-01-01, worker 0
	epoch := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

	db := &DB{
		conn:      conn,
		writeConn: writeConn,
		snowflake: NewSnowflake(epoch, 0),
	}

	// Connections left open by an unclean shutdown can never be closed now
	if n, err := db.closeDanglingConnections(); err != nil {
		log.Printf("Failed to close dangling connections: %v", err)
	} else if n > 0 {
		log.Printf("Marked %d dangling connection(s) as disconnected", n)
	}

	db.WriteBuffer = NewWriteBuffer(db, 100*time.Millisecond)

	return db, nil
}

func openPool(path string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	return conn, nil
}

// Close flushes pending writes and closes the database
func (db *DB) Close() error {
	db.WriteBuffer.Close()
	db.writeConn.Close()
	return db.conn.Close()
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// OpenConnection queues a new connection record and returns its ID.
// The client row is created or refreshed in the same flush.
func (db *DB) OpenConnection(hwid, displayName, remoteAddr, transport string) int64 {
	return db.WriteBuffer.OpenConnection(hwid, displayName, remoteAddr, transport)
}

// CloseConnection queues the disconnect time for a connection
func (db *DB) CloseConnection(connectionID int64) {
	db.WriteBuffer.CloseConnection(connectionID)
}

// GetClient returns the directory entry for a HWID
func (db *DB) GetClient(hwid string) (*Client, error) {
	var c Client
	err := db.conn.QueryRow(`
		SELECT hwid, display_name, first_connection, last_connection, connection_count, last_remote_addr
		FROM clients
		WHERE hwid = ?
	`, hwid).Scan(&c.HWID, &c.DisplayName, &c.FirstConnection, &c.LastConnection, &c.ConnectionCount, &c.LastRemoteAddr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrClientNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListClients returns known clients, most recently connected first
func (db *DB) ListClients(limit int) ([]*Client, error) {
	rows, err := db.conn.Query(`
		SELECT hwid, display_name, first_connection, last_connection, connection_count, last_remote_addr
		FROM clients
		ORDER BY last_connection DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clients []*Client
	for rows.Next() {
		var c Client
		if err := rows.Scan(&c.HWID, &c.DisplayName, &c.FirstConnection, &c.LastConnection, &c.ConnectionCount, &c.LastRemoteAddr); err != nil {
			return nil, err
		}
		clients = append(clients, &c)
	}
	return clients, rows.Err()
}

// CountClients returns the number of distinct HWIDs ever seen
func (db *DB) CountClients() (int64, error) {
	var count int64
	err := db.conn.QueryRow("SELECT COUNT(*) FROM clients").Scan(&count)
	return count, err
}

// ListConnections returns the connection log for a HWID, newest first
func (db *DB) ListConnections(hwid string, limit int) ([]*Connection, error) {
	rows, err := db.conn.Query(`
		SELECT id, hwid, remote_addr, transport, connected_at, disconnected_at
		FROM connections
		WHERE hwid = ?
		ORDER BY connected_at DESC, id DESC
		LIMIT ?
	`, hwid, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []*Connection
	for rows.Next() {
		var c Connection
		var disconnected sql.NullInt64
		if err := rows.Scan(&c.ID, &c.HWID, &c.RemoteAddr, &c.Transport, &c.ConnectedAt, &disconnected); err != nil {
			return nil, err
		}
		if disconnected.Valid {
			c.DisconnectedAt = &disconnected.Int64
		}
		conns = append(conns, &c)
	}
	return conns, rows.Err()
}

// CountOpenConnections returns connections with no disconnect time
func (db *DB) CountOpenConnections() (int64, error) {
	var count int64
	err := db.conn.QueryRow("SELECT COUNT(*) FROM connections WHERE disconnected_at IS NULL").Scan(&count)
	return count, err
}

// closeDanglingConnections stamps every open connection with the current time
func (db *DB) closeDanglingConnections() (int64, error) {
	result, err := db.writeConn.Exec(
		"UPDATE connections SET disconnected_at = ? WHERE disconnected_at IS NULL",
		nowMillis(),
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
