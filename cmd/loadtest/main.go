package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/aeolun/relaychat/pkg/client"
	"github.com/aeolun/relaychat/pkg/protocol"
)

const loremIpsum = "Lorem ipsum dolor sit amet, consectetur adipiscing elit, sed do eiusmod tempor incididunt ut labore et dolore magna aliqua. Ut enim ad minim veniam, quis nostrud exercitation ullamco laboris nisi ut aliquip ex ea commodo consequat. Duis aute irure dolor in reprehenderit in voluptate velit esse cillum dolore eu fugiat nulla pariatur. Excepteur sint occaecat cupidatat non proident, sunt in culpa qui officia deserunt mollit anim id est laborum."

var loremWords = strings.Fields(strings.NewReplacer(",", "", ".", "").Replace(strings.ToLower(loremIpsum)))

// generateUsername glues fragments of two random words together
func generateUsername() string {
	var b strings.Builder
	for i := 0; i < 2; i++ {
		word := loremWords[rand.IntN(len(loremWords))]
		n := min(len(word), 3+rand.IntN(4))
		b.WriteString(word[:n])
	}
	return b.String()
}

// Stats tracks load test counters
type Stats struct {
	authenticated    atomic.Int64
	messagesSent     atomic.Int64
	messagesFailed   atomic.Int64
	messagesReceived atomic.Int64
	connectionErrors atomic.Int64
	disconnections   atomic.Int64
	totalAuthTime    atomic.Int64 // in microseconds
}

func (s *Stats) recordAuth(responseTimeUs int64) {
	s.authenticated.Add(1)
	s.totalAuthTime.Add(responseTimeUs)
}

func (s *Stats) snapshot() (sent, received, failed, connErrors int64, avgAuthUs float64) {
	sent = s.messagesSent.Load()
	received = s.messagesReceived.Load()
	failed = s.messagesFailed.Load()
	connErrors = s.connectionErrors.Load()

	if n := s.authenticated.Load(); n > 0 {
		avgAuthUs = float64(s.totalAuthTime.Load()) / float64(n)
	}
	return
}

// BotClient is a fake client that chats at random intervals
type BotClient struct {
	id    int
	conn  *client.Connection
	stats *Stats
}

func NewBotClient(id int, serverAddr string, stats *Stats) (*BotClient, error) {
	hwid := fmt.Sprintf("loadtest-%d-%d", os.Getpid(), id)

	conn, err := client.NewConnection(serverAddr, hwid, generateUsername())
	if err != nil {
		return nil, fmt.Errorf("failed to create connection: %w", err)
	}
	conn.DisableAutoReconnect()

	return &BotClient{id: id, conn: conn, stats: stats}, nil
}

// Connect authenticates and waits for the session token
func (bc *BotClient) Connect() error {
	start := time.Now()
	if err := bc.conn.Connect(); err != nil {
		return err
	}

	select {
	case msg, ok := <-bc.conn.Incoming():
		if !ok {
			return fmt.Errorf("connection closed during authentication")
		}
		if _, isToken := msg.(*protocol.AuthenticateToken); !isToken {
			return fmt.Errorf("expected AuthenticateToken, got %T", msg)
		}
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for session token")
	}

	bc.stats.recordAuth(time.Since(start).Microseconds())
	return nil
}

// drain counts broadcasts until the connection closes
func (bc *BotClient) drain() {
	for msg := range bc.conn.Incoming() {
		if _, ok := msg.(*protocol.BroadcastMessage); ok {
			bc.stats.messagesReceived.Add(1)
		}
	}
}

func (bc *BotClient) randomMessage() string {
	wordCount := 5 + rand.IntN(16)
	words := make([]string, wordCount)
	for i := range words {
		words[i] = loremWords[rand.IntN(len(loremWords))]
	}
	return strings.Join(words, " ")
}

func (bc *BotClient) Run(stop <-chan struct{}, duration, minDelay, maxDelay, shutdownDelay time.Duration) {
	defer bc.conn.Close()

	go bc.drain()

	endTime := time.Now().Add(duration)
	for time.Now().Before(endTime) {
		if !bc.conn.IsConnected() {
			bc.stats.disconnections.Add(1)
			return
		}

		if err := bc.conn.SendChat(bc.randomMessage()); err != nil {
			bc.stats.messagesFailed.Add(1)
		} else {
			bc.stats.messagesSent.Add(1)
		}

		delay := minDelay
		if maxDelay > minDelay {
			delay += time.Duration(rand.Int64N(int64(maxDelay - minDelay)))
		}
		select {
		case <-time.After(delay):
		case <-stop:
			return
		}
	}

	// Stagger shutdown to avoid thundering herd on disconnect
	select {
	case <-time.After(shutdownDelay):
	case <-stop:
	}
}

func main() {
	serverAddr := flag.String("server", "localhost:7878", "Server address (host:port or ws://host:port)")
	numClients := flag.Int("clients", 10, "Number of concurrent clients")
	duration := flag.Duration("duration", 1*time.Minute, "Test duration")
	minDelay := flag.Duration("min-delay", 100*time.Millisecond, "Minimum delay between messages")
	maxDelay := flag.Duration("max-delay", 1*time.Second, "Maximum delay between messages")
	flag.Parse()

	if *numClients < 1 {
		log.Fatal("--clients must be at least 1")
	}

	// Ramp up over 25% of test duration
	rampUpDuration := *duration / 4
	staggerDelay := rampUpDuration / time.Duration(*numClients)
	if staggerDelay < 1*time.Millisecond {
		staggerDelay = 1 * time.Millisecond
	}

	log.Printf("Starting load test:")
	log.Printf("  Server: %s", *serverAddr)
	log.Printf("  Clients: %d", *numClients)
	log.Printf("  Duration: %v", *duration)
	log.Printf("  Ramp-up: %v (%v per client)", rampUpDuration, staggerDelay)
	log.Printf("  Delay: %v - %v", *minDelay, *maxDelay)
	log.Printf("")

	stats := &Stats{}
	stop := make(chan struct{})
	var stopOnce sync.Once
	var wg sync.WaitGroup

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Printf("Shutdown signal received, stopping test...")
		stopOnce.Do(func() { close(stop) })
	}()

	statsDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()

		startTime := time.Now()
		for {
			select {
			case <-ticker.C:
				sent, received, failed, connErrors, avgUs := stats.snapshot()
				elapsed := time.Since(startTime).Seconds()
				log.Printf("Stats: %d sent (%.1f/s), %d received, %d failed, %d conn errors, avg auth %.2fms",
					sent, float64(sent)/elapsed, received, failed, connErrors, avgUs/1000.0)
			case <-statsDone:
				return
			}
		}
	}()

spawn:
	for i := 0; i < *numClients; i++ {
		wg.Add(1)

		// Reverse order for ramp-down
		shutdownDelay := staggerDelay * time.Duration(*numClients-i-1)

		go func(id int, shutdownDelay time.Duration) {
			defer wg.Done()

			bot, err := NewBotClient(id, *serverAddr, stats)
			if err != nil {
				stats.connectionErrors.Add(1)
				return
			}

			if err := bot.Connect(); err != nil {
				stats.connectionErrors.Add(1)
				bot.conn.Close()
				return
			}

			if id%100 == 0 {
				log.Printf("[Bot %d] Connected", id)
			}

			bot.Run(stop, *duration, *minDelay, *maxDelay, shutdownDelay)
		}(i, shutdownDelay)

		select {
		case <-time.After(staggerDelay):
		case <-stop:
			break spawn
		}
	}

	wg.Wait()
	close(statsDone)

	sent, received, failed, connErrors, avgUs := stats.snapshot()
	rate := float64(sent) / duration.Seconds()

	// Every message fans out to every other bot
	expectedReceived := sent * int64(*numClients-1)
	var delivery float64
	if expectedReceived > 0 {
		delivery = float64(received) / float64(expectedReceived) * 100
	}

	log.Printf("=== Final Results ===")
	log.Printf("Duration: %v", *duration)
	log.Printf("Clients authenticated: %d/%d", stats.authenticated.Load(), *numClients)
	log.Printf("Messages sent: %d (%.1f/s)", sent, rate)
	log.Printf("Messages failed: %d", failed)
	log.Printf("Broadcasts received: %d (%.1f%% of upper bound %d)", received, delivery, expectedReceived)
	log.Printf("Connection errors: %d", connErrors)
	log.Printf("Disconnections: %d", stats.disconnections.Load())
	log.Printf("Average authentication time: %.2fms", avgUs/1000.0)
}
