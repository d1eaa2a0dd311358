package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/aeolun/relaychat/pkg/server"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	configPath := flag.String("config", "~/.relaychat/config.toml", "Path to config file")
	endpoint := flag.String("endpoint", "", "TCP address to listen on (overrides config)")
	dbPath := flag.String("db", "", "Path to SQLite database (overrides config)")
	metricsAddr := flag.String("metrics", "", "HTTP address for /metrics and /health (overrides config)")
	pprofAddr := flag.String("pprof", "", "Serve pprof on this address (e.g. localhost:6060)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		fmt.Printf("relaychat server %s\n", Version)
		os.Exit(0)
	}

	// Falls back to defaults when the file is missing or broken
	config := server.LoadConfig(*configPath)

	if *endpoint != "" {
		config.Server.Endpoint = *endpoint
	}
	if *dbPath != "" {
		config.Server.DatabasePath = *dbPath
	}
	if *metricsAddr != "" {
		config.HTTP.MetricsAddr = *metricsAddr
	}
	if *debug {
		config.Logging.Debug = true
	}

	serverConfig := config.ToServerConfig()

	srv, err := server.NewServer(serverConfig)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	if serverConfig.Debug {
		srv.EnableDebugLogging()
		log.Printf("Debug logging enabled")
	}

	log.Printf("Config: %s (using defaults if not found)", *configPath)
	if serverConfig.DatabasePath != "" {
		log.Printf("Database: %s", serverConfig.DatabasePath)
	} else {
		log.Printf("Database disabled, client directory is not persisted")
	}

	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	log.Printf("relaychat server %s started successfully", Version)
	log.Printf("Listening on %s", srv.Addr())
	if addr := srv.HTTPAddr(); addr != nil {
		log.Printf("HTTP: http://%s/metrics, http://%s/health", addr, addr)
		if serverConfig.WebSocket {
			log.Printf("WebSocket: ws://%s/ws", addr)
		}
	}

	if *pprofAddr != "" {
		go func() {
			log.Printf("Starting pprof server on http://%s", *pprofAddr)
			if err := http.ListenAndServe(*pprofAddr, nil); err != nil {
				log.Printf("pprof server error: %v", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down server...")
	if err := srv.Stop(); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
	log.Println("Server stopped")
}
