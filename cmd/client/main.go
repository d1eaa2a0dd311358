package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aeolun/relaychat/pkg/client"
	"github.com/aeolun/relaychat/pkg/protocol"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"
)

func main() {
	configPath := flag.String("config", client.DefaultConfigPath(), "Path to config file")
	serverAddr := flag.String("server", "", "Server address: host:port, ws://host:port or wss://host:port (overrides config)")
	name := flag.String("name", "", "Display name (overrides config)")
	hwid := flag.String("hwid", "", "Hardware ID to authenticate with (default: derived from this machine)")
	debug := flag.Bool("debug", false, "Log connection events to stderr")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		fmt.Printf("relaychat client %s\n", Version)
		os.Exit(0)
	}

	config, err := client.LoadClientConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config %s: %v", *configPath, err)
	}

	if *serverAddr != "" {
		config.Connection.Endpoint = *serverAddr
	}
	if *name != "" {
		config.Identity.Name = *name
	}
	if *hwid != "" {
		config.Identity.HWID = *hwid
	}

	id := config.Identity.HWID
	if id == "" {
		id, err = client.DeriveHWID()
		if err != nil {
			log.Fatalf("Failed to derive hardware ID (use --hwid): %v", err)
		}
	}

	conn, err := client.NewConnection(config.Connection.Endpoint, id, config.Identity.Name)
	if err != nil {
		log.Fatalf("Invalid server address: %v", err)
	}
	conn.SetBufferSize(config.Connection.BufferSize)
	if !config.Connection.AutoReconnect {
		conn.DisableAutoReconnect()
	}
	if config.Connection.ReconnectMaxDelaySeconds > 0 {
		conn.SetMaxReconnectDelay(time.Duration(config.Connection.ReconnectMaxDelaySeconds) * time.Second)
	}
	if *debug {
		conn.SetLogger(log.New(os.Stderr, "DEBUG: ", log.Ldate|log.Ltime|log.Lmicroseconds))
	}

	if err := conn.Connect(); err != nil {
		log.Fatalf("Failed to connect to %s: %v", conn.GetAddress(), err)
	}

	go printIncoming(os.Stdout, conn)

	lines := make(chan string)
	go readLines(os.Stdin, lines)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	fmt.Printf("Connected to %s as %s. Type /nick NAME to rename, /quit to exit.\n", conn.GetAddress(), config.Identity.Name)

loop:
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			if quit := handleLine(conn, line); quit {
				break loop
			}
		case <-sigChan:
			break loop
		}
	}

	conn.Close()
}

// handleLine sends one line of input and reports whether to quit
func handleLine(conn *client.Connection, line string) bool {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return false
	case line == "/quit":
		return true
	case strings.HasPrefix(line, "/nick "):
		newName := strings.TrimSpace(strings.TrimPrefix(line, "/nick "))
		if err := conn.ChangeUsername(newName); err != nil {
			fmt.Fprintf(os.Stderr, "rename failed: %v\n", err)
		}
	default:
		if err := conn.SendChat(line); err != nil {
			fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
		}
	}
	return false
}

func readLines(r io.Reader, lines chan<- string) {
	defer close(lines)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines <- scanner.Text()
	}
}

func printIncoming(w io.Writer, conn *client.Connection) {
	for {
		select {
		case msg, ok := <-conn.Incoming():
			if !ok {
				return
			}
			switch m := msg.(type) {
			case *protocol.AuthenticateToken:
				fmt.Fprintf(w, "* authenticated, session %s\n", m.Token)
			case *protocol.BroadcastMessage:
				fmt.Fprintf(w, "%s [%s] %s\n", time.Now().Format("15:04"), m.Sender, m.Content)
			}
		case update, ok := <-conn.StateChanges():
			if !ok {
				return
			}
			switch update.State {
			case client.StateTypeDisconnected:
				fmt.Fprintln(w, "* disconnected")
			case client.StateTypeReconnecting:
				fmt.Fprintf(w, "* reconnecting (attempt %d)\n", update.Attempt)
			case client.StateTypeConnected:
				fmt.Fprintln(w, "* reconnected")
			}
		}
	}
}
