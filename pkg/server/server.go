package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aeolun/relaychat/pkg/database"
)

var (
	debugLog = log.New(io.Discard, "DEBUG: ", log.Ldate|log.Ltime|log.Lmicroseconds)
	errorLog = log.New(os.Stderr, "ERROR: ", log.Ldate|log.Ltime|log.Lmicroseconds)
)

// Server accepts client connections and relays chat between them
type Server struct {
	config   ServerConfig
	store    ClientStore
	registry *Registry
	metrics  *Metrics

	listener     net.Listener
	httpServer   *http.Server
	httpListener net.Listener

	// Every open connection, authenticated or not, so Stop can close them
	connsMu sync.Mutex
	conns   map[uint64]*SafeConn

	nextConnID atomic.Uint64
	startTime  time.Time
	shutdown   chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// NewServer creates a server and opens its client directory, if configured
func NewServer(config ServerConfig) (*Server, error) {
	var store ClientStore = nopStore{}

	if config.DatabasePath != "" {
		path, err := ExpandPath(config.DatabasePath)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		db, err := database.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		store = db
	}

	return NewServerWithStore(config, store), nil
}

// NewServerWithStore creates a server backed by the given client store
func NewServerWithStore(config ServerConfig, store ClientStore) *Server {
	metrics := NewMetrics()
	registry := NewRegistry()
	registry.SetMetrics(metrics)

	if config.Debug {
		debugLog.SetOutput(os.Stderr)
	}

	return &Server{
		config:   config,
		store:    store,
		registry: registry,
		metrics:  metrics,
		conns:    make(map[uint64]*SafeConn),
		shutdown: make(chan struct{}),
	}
}

// EnableDebugLogging turns on per-frame tracing
func (s *Server) EnableDebugLogging() {
	debugLog.SetOutput(os.Stderr)
}

// Start binds the TCP listener, and the HTTP listener if configured, then
// returns. Connections are served in the background until Stop.
func (s *Server) Start() error {
	lc := net.ListenConfig{Control: reuseAddr}
	listener, err := lc.Listen(context.Background(), "tcp", s.config.Endpoint)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Endpoint, err)
	}
	s.listener = listener
	s.startTime = time.Now()
	logListenBacklog(listener.Addr().String())

	if s.config.MetricsAddr != "" {
		if err := s.startHTTP(); err != nil {
			listener.Close()
			return err
		}
	}

	s.wg.Add(1)
	go s.monitorListenOverflows()

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// startHTTP serves /metrics, /health and optionally /ws
func (s *Server) startHTTP() error {
	listener, err := net.Listen("tcp", s.config.MetricsAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.MetricsAddr, err)
	}
	s.httpListener = listener
	s.httpServer = &http.Server{
		Handler:           s.httpMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("HTTP server listening on %s", listener.Addr())

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorLog.Printf("HTTP server error: %v", err)
		}
	}()
	return nil
}

// Addr returns the TCP listen address
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// HTTPAddr returns the HTTP listen address, or nil when HTTP is disabled
func (s *Server) HTTPAddr() net.Addr {
	if s.httpListener == nil {
		return nil
	}
	return s.httpListener.Addr()
}

// Registry returns the client registry
func (s *Server) Registry() *Registry {
	return s.registry
}

// Stop closes the listeners and every connection, waits for their
// goroutines, then flushes and closes the client directory
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.connsMu.Lock()
		close(s.shutdown)
		s.connsMu.Unlock()

		if s.listener != nil {
			s.listener.Close()
		}

		if s.httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			s.httpServer.Shutdown(ctx)
			cancel()
		}

		s.registry.CloseAll()

		s.connsMu.Lock()
		for _, conn := range s.conns {
			conn.Close()
		}
		s.connsMu.Unlock()

		s.wg.Wait()

		err = s.store.Close()
	})
	return err
}

// acceptLoop accepts incoming connections
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			errorLog.Printf("Accept error: %v", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}

		// Disable Nagle's algorithm for immediate sends
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			tcpConn.SetNoDelay(true)
		}

		if !s.admit() {
			conn.Close()
			return
		}
		go s.serveConn(conn, "tcp")
	}
}

// admit reserves a WaitGroup slot for a new connection unless Stop has begun
func (s *Server) admit() bool {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()

	select {
	case <-s.shutdown:
		return false
	default:
	}
	s.wg.Add(1)
	return true
}

// serveConn runs one connection to completion. The caller must have admitted it.
func (s *Server) serveConn(conn net.Conn, transport string) {
	defer s.wg.Done()

	id := s.nextConnID.Add(1)
	safe := NewSafeConn(conn, id, transport, s.config.WriteTimeout)

	if !s.track(safe) {
		// Stop already ran
		safe.Close()
		return
	}
	defer s.untrack(safe)

	s.metrics.RecordConnection(transport)
	debugLog.Printf("New %s connection from %s (session %d)", transport, conn.RemoteAddr(), id)

	newSession(s, conn, safe).run()
}

func (s *Server) track(conn *SafeConn) bool {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()

	select {
	case <-s.shutdown:
		return false
	default:
	}
	s.conns[conn.ID] = conn
	return true
}

func (s *Server) untrack(conn *SafeConn) {
	s.connsMu.Lock()
	delete(s.conns, conn.ID)
	s.connsMu.Unlock()
}
