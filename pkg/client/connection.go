package client

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aeolun/relaychat/pkg/protocol"
)

// ConnectionStateType represents the connection status
type ConnectionStateType int

const (
	StateTypeConnected ConnectionStateType = iota
	StateTypeDisconnected
	StateTypeReconnecting
)

// ConnectionStateUpdate represents a connection state change
type ConnectionStateUpdate struct {
	State   ConnectionStateType
	Attempt int
	Err     error
}

// Connection is a client connection to a relaychat server. It authenticates
// on every (re)connect and delivers server messages on Incoming.
type Connection struct {
	addr string
	dial func() (net.Conn, error)

	hwid string
	name string

	conn         net.Conn
	done         chan struct{} // closed when the current conn is torn down
	mu           sync.RWMutex
	connected    bool
	reconnecting bool
	token        string

	bufferSize int

	// Channels for communication
	incoming    chan protocol.Message
	outgoing    chan protocol.Message
	errors      chan error
	stateChange chan ConnectionStateUpdate

	// Auto-reconnect settings
	autoReconnect     bool
	reconnectDelay    time.Duration
	maxReconnectDelay time.Duration

	// Traffic counters (bytes on the wire)
	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64

	logger *log.Logger

	shutdown  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewConnection creates a client connection for the given identity
func NewConnection(addr, hwid, name string) (*Connection, error) {
	if hwid == "" {
		return nil, errors.New("hwid is empty")
	}

	dialConfig, err := parseServerAddress(addr)
	if err != nil {
		return nil, err
	}

	return &Connection{
		addr:              dialConfig.display,
		dial:              dialConfig.dial,
		hwid:              hwid,
		name:              name,
		incoming:          make(chan protocol.Message, 100),
		outgoing:          make(chan protocol.Message, 100),
		errors:            make(chan error, 10),
		stateChange:       make(chan ConnectionStateUpdate, 10),
		autoReconnect:     true,
		reconnectDelay:    1 * time.Second,
		maxReconnectDelay: 30 * time.Second,
		shutdown:          make(chan struct{}),
	}, nil
}

// SetLogger sets a logger for debugging connection events
func (c *Connection) SetLogger(logger *log.Logger) {
	c.logger = logger
}

// SetBufferSize sets the read chunk size used for new connections
func (c *Connection) SetBufferSize(size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bufferSize = size
}

// DisableAutoReconnect disables automatic reconnection on connection loss
func (c *Connection) DisableAutoReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoReconnect = false
}

// SetMaxReconnectDelay caps the exponential backoff between attempts
func (c *Connection) SetMaxReconnectDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxReconnectDelay = d
	if c.reconnectDelay > d {
		c.reconnectDelay = d
	}
}

func (c *Connection) logf(format string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

// Connect dials the server and sends RequestAuthentication before any
// other frame
func (c *Connection) Connect() error {
	select {
	case <-c.shutdown:
		return net.ErrClosed
	default:
	}

	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return fmt.Errorf("already connected")
	}
	c.mu.Unlock()

	c.logf("Connecting to %s...", c.addr)

	conn, err := c.dial()
	if err != nil {
		c.logf("Connection failed: %v", err)
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.mu.Lock()
	auth := &protocol.RequestAuthentication{HWID: c.hwid, Name: c.name}
	c.mu.Unlock()

	if err := protocol.EncodeFrame(&countingWriter{w: conn, counter: &c.bytesSent}, auth); err != nil {
		conn.Close()
		return fmt.Errorf("failed to send authentication: %w", err)
	}
	c.logf("→ SEND: Type=0x%02X %s", auth.Type(), protocol.TypeName(protocol.ClientCatalog, auth.Type()))

	c.mu.Lock()
	c.conn = conn
	c.done = make(chan struct{})
	c.connected = true
	c.token = ""
	done := c.done
	bufferSize := c.bufferSize
	c.mu.Unlock()

	c.logf("Connected successfully to %s", c.addr)

	c.wg.Add(2)
	go c.readLoop(conn, done, bufferSize)
	go c.writeLoop(conn, done)

	return nil
}

// Disconnect closes the current connection without reconnecting
func (c *Connection) Disconnect() {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	c.logf("Disconnecting from %s", c.addr)
	c.teardownLocked()
	c.mu.Unlock()
}

// teardownLocked closes the current conn; c.mu must be held
func (c *Connection) teardownLocked() {
	c.connected = false
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	if c.done != nil {
		close(c.done)
		c.done = nil
	}
}

// Close shuts down the connection permanently
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.shutdown)
		c.Disconnect()
		c.wg.Wait()
		close(c.incoming)
		close(c.errors)
		close(c.stateChange)
	})
}

// Send queues a message for the server
func (c *Connection) Send(msg protocol.Message) error {
	if msg.Catalog() != protocol.ClientCatalog {
		return fmt.Errorf("%T is not a client message", msg)
	}

	select {
	case <-c.shutdown:
		return fmt.Errorf("connection closed")
	default:
	}

	select {
	case c.outgoing <- msg:
		return nil
	default:
		return fmt.Errorf("outgoing queue full")
	}
}

// SendChat queues a chat line
func (c *Connection) SendChat(content string) error {
	return c.Send(&protocol.ChatMessage{HWID: c.hwid, Content: content})
}

// ChangeUsername asks the server for a new display name. The name is also
// used when authenticating after a reconnect.
func (c *Connection) ChangeUsername(name string) error {
	c.mu.Lock()
	c.name = name
	c.mu.Unlock()
	return c.Send(&protocol.ChangeUsername{HWID: c.hwid, NewUsername: name})
}

// Incoming returns the channel of messages received from the server
func (c *Connection) Incoming() <-chan protocol.Message {
	return c.incoming
}

// Errors returns the channel for connection errors
func (c *Connection) Errors() <-chan error {
	return c.errors
}

// StateChanges returns the channel for connection state updates
func (c *Connection) StateChanges() <-chan ConnectionStateUpdate {
	return c.stateChange
}

// IsConnected returns whether the connection is active
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Token returns the session token of the current connection, or "" before
// the server has answered
func (c *Connection) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// HWID returns the identifier this connection authenticates with
func (c *Connection) HWID() string {
	return c.hwid
}

// GetAddress returns the server address
func (c *Connection) GetAddress() string {
	return c.addr
}

// GetBytesSent returns the total bytes sent
func (c *Connection) GetBytesSent() uint64 {
	return c.bytesSent.Load()
}

// GetBytesReceived returns the total bytes received
func (c *Connection) GetBytesReceived() uint64 {
	return c.bytesReceived.Load()
}

// reportError forwards err without blocking when nobody is listening
func (c *Connection) reportError(err error) {
	select {
	case c.errors <- err:
	default:
	}
}

func (c *Connection) readLoop(conn net.Conn, done chan struct{}, bufferSize int) {
	defer c.wg.Done()

	reader := protocol.NewFrameReader(&countingReader{r: conn, counter: &c.bytesReceived}, protocol.ServerCatalog, bufferSize)

	for {
		frame, err := reader.Next()
		if err != nil {
			if errors.Is(err, protocol.ErrUnknownType) {
				c.logf("Skipping frame: %v", err)
				continue
			}
			if errors.Is(err, io.EOF) {
				c.logf("Connection closed by server (EOF)")
			} else {
				c.logf("Read error: %v", err)
				c.reportError(fmt.Errorf("read error: %w", err))
			}
			c.handleDisconnect(done)
			return
		}

		c.logf("← RECV: Type=0x%02X %s", frame.Type, protocol.TypeName(protocol.ServerCatalog, frame.Type))

		if token, ok := frame.Message.(*protocol.AuthenticateToken); ok {
			c.mu.Lock()
			c.token = token.Token
			c.mu.Unlock()
		}

		select {
		case c.incoming <- frame.Message:
		case <-done:
			return
		case <-c.shutdown:
			return
		}
	}
}

func (c *Connection) writeLoop(conn net.Conn, done chan struct{}) {
	defer c.wg.Done()

	writer := &countingWriter{w: conn, counter: &c.bytesSent}

	for {
		select {
		case msg := <-c.outgoing:
			data, err := protocol.EncodeMessage(msg)
			if err != nil {
				c.logf("Encode error: %v", err)
				c.reportError(fmt.Errorf("encode error: %w", err))
				continue
			}

			if _, err := writer.Write(data); err != nil {
				c.logf("Write error: %v", err)
				c.reportError(fmt.Errorf("write error: %w", err))
				c.handleDisconnect(done)
				return
			}

			c.logf("→ SEND: Type=0x%02X %s", msg.Type(), protocol.TypeName(protocol.ClientCatalog, msg.Type()))

		case <-done:
			return
		case <-c.shutdown:
			return
		}
	}
}

// handleDisconnect tears down the connection identified by done, once
func (c *Connection) handleDisconnect(done chan struct{}) {
	c.mu.Lock()
	if c.done != done {
		c.mu.Unlock()
		return
	}
	c.teardownLocked()
	autoReconnect := c.autoReconnect
	c.mu.Unlock()

	c.logf("Disconnected from server")

	disconnectErr := fmt.Errorf("disconnected from server")
	c.reportError(disconnectErr)

	select {
	case c.stateChange <- ConnectionStateUpdate{State: StateTypeDisconnected, Err: disconnectErr}:
	default:
	}

	select {
	case <-c.shutdown:
		return
	default:
	}

	if autoReconnect {
		c.logf("Auto-reconnect enabled, starting reconnect loop")
		c.wg.Add(1)
		go c.reconnectLoop()
	}
}

// reconnectLoop attempts to reconnect with exponential backoff
func (c *Connection) reconnectLoop() {
	defer c.wg.Done()

	c.mu.Lock()
	if c.reconnecting {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	delay := c.reconnectDelay
	maxDelay := c.maxReconnectDelay
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	attempt := 1

	for {
		select {
		case <-c.shutdown:
			c.logf("Reconnect loop cancelled (shutdown)")
			return
		case <-time.After(delay):
			c.logf("Reconnect attempt %d to %s", attempt, c.addr)

			select {
			case c.stateChange <- ConnectionStateUpdate{State: StateTypeReconnecting, Attempt: attempt}:
			default:
			}

			if err := c.Connect(); err != nil {
				c.logf("Reconnect attempt %d failed: %v", attempt, err)

				delay = delay * 2
				if delay > maxDelay {
					delay = maxDelay
				}
				attempt++
				continue
			}

			c.logf("Reconnected successfully after %d attempts", attempt)

			select {
			case c.stateChange <- ConnectionStateUpdate{State: StateTypeConnected}:
			default:
			}
			return
		}
	}
}

// countingReader wraps an io.Reader and counts bytes read
type countingReader struct {
	r       io.Reader
	counter *atomic.Uint64
}

func (cr *countingReader) Read(p []byte) (n int, err error) {
	n, err = cr.r.Read(p)
	if n > 0 && cr.counter != nil {
		cr.counter.Add(uint64(n))
	}
	return n, err
}

// countingWriter wraps an io.Writer and counts bytes written
type countingWriter struct {
	w       io.Writer
	counter *atomic.Uint64
}

func (cw *countingWriter) Write(p []byte) (n int, err error) {
	n, err = cw.w.Write(p)
	if n > 0 && cw.counter != nil {
		cw.counter.Add(uint64(n))
	}
	return n, err
}

type dialConfig struct {
	display string
	dial    func() (net.Conn, error)
}

const (
	defaultTCPPort       = "7878"
	defaultWebSocketPort = "9478"
)

// parseServerAddress accepts host[:port], tcp://host[:port],
// ws://host[:port] and wss://host[:port]
func parseServerAddress(raw string) (*dialConfig, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errors.New("server address is empty")
	}

	scheme := "tcp"
	hostPort := trimmed
	if strings.Contains(trimmed, "://") {
		u, err := url.Parse(trimmed)
		if err != nil {
			return nil, fmt.Errorf("invalid server address %q: %w", raw, err)
		}

		if u.Scheme != "" {
			scheme = strings.ToLower(u.Scheme)
		}
		hostPort = u.Host
	}

	switch scheme {
	case "tcp":
		host, port, err := splitHostPortWithDefault(hostPort, defaultTCPPort)
		if err != nil {
			return nil, err
		}

		address := net.JoinHostPort(host, port)
		return &dialConfig{
			display: address,
			dial: func() (net.Conn, error) {
				return net.DialTimeout("tcp", address, 10*time.Second)
			},
		}, nil

	case "ws", "wss":
		host, port, err := splitHostPortWithDefault(hostPort, defaultWebSocketPort)
		if err != nil {
			return nil, err
		}

		address := net.JoinHostPort(host, port)
		useTLS := scheme == "wss"
		return &dialConfig{
			display: fmt.Sprintf("%s://%s", scheme, address),
			dial: func() (net.Conn, error) {
				return DialWebSocket(address, useTLS)
			},
		}, nil

	default:
		return nil, fmt.Errorf("unsupported server scheme %q", scheme)
	}
}

func splitHostPortWithDefault(hostPort, defaultPort string) (string, string, error) {
	hostPort = strings.TrimSpace(hostPort)
	if hostPort == "" {
		return "", "", errors.New("missing host in server address")
	}

	host, port, err := net.SplitHostPort(hostPort)
	if err == nil {
		return host, port, nil
	}

	var addrErr *net.AddrError
	if errors.As(err, &addrErr) && strings.Contains(strings.ToLower(addrErr.Err), "missing port") {
		host = hostPort
		if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
			host = strings.TrimPrefix(strings.TrimSuffix(host, "]"), "[")
		}
		return host, defaultPort, nil
	}

	return "", "", err
}
