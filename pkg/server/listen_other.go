//go:build !linux

package server

import "log"

// logListenBacklog logs the listen address
func logListenBacklog(addr string) {
	log.Printf("TCP server listening on %s", addr)
}

// monitorListenOverflows is only available on Linux
func (s *Server) monitorListenOverflows() {
	s.wg.Done()
}
