package server

// ClientStore records who connected and when. *database.DB implements it.
type ClientStore interface {
	// OpenConnection records an authenticated connection and returns its ID
	OpenConnection(hwid, displayName, remoteAddr, transport string) int64
	// CloseConnection records the end of a connection
	CloseConnection(connectionID int64)
	// CountClients returns the number of distinct HWIDs ever seen
	CountClients() (int64, error)

	Close() error
}

// nopStore is used when the client directory is disabled
type nopStore struct{}

func (nopStore) OpenConnection(hwid, displayName, remoteAddr, transport string) int64 { return 0 }
func (nopStore) CloseConnection(connectionID int64)                                   {}
func (nopStore) CountClients() (int64, error)                                         { return 0, nil }
func (nopStore) Close() error                                                         { return nil }
