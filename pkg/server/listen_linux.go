//go:build linux

package server

import (
	"bufio"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// logListenBacklog logs the listen address and the kernel's backlog limit
func logListenBacklog(addr string) {
	somaxconn := 0
	if data, err := os.ReadFile("/proc/sys/net/core/somaxconn"); err == nil {
		somaxconn, _ = strconv.Atoi(strings.TrimSpace(string(data)))
	}

	log.Printf("TCP server listening on %s (kernel listen backlog: %d)", addr, somaxconn)
	if somaxconn > 0 && somaxconn < 4096 {
		log.Printf("WARNING: net.core.somaxconn=%d may drop connections under a burst of logins", somaxconn)
	}
}

// monitorListenOverflows reports connections the kernel rejected because the
// accept queue was full
func (s *Server) monitorListenOverflows() {
	defer s.wg.Done()

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	last := listenOverflows()
	for {
		select {
		case <-ticker.C:
			current := listenOverflows()
			if current > last {
				log.Printf("WARNING: %d connection(s) rejected due to listen backlog overflow (total: %d)", current-last, current)
			}
			last = current

		case <-s.shutdown:
			return
		}
	}
}

// listenOverflows reads TcpExt ListenOverflows from /proc/net/netstat
func listenOverflows() uint64 {
	file, err := os.Open("/proc/net/netstat")
	if err != nil {
		return 0
	}
	defer file.Close()

	// TcpExt appears twice: a header line, then a value line
	var headers []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || fields[0] != "TcpExt:" {
			continue
		}
		if headers == nil {
			headers = fields[1:]
			continue
		}
		values := fields[1:]
		for i, h := range headers {
			if h == "ListenOverflows" && i < len(values) {
				n, _ := strconv.ParseUint(values[i], 10, 64)
				return n
			}
		}
		return 0
	}
	return 0
}
