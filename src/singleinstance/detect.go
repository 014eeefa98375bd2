package singleinstance

import (
	"bufio"
	"context"
	"log"
	"net"
	"strconv"
	"time"
)

const probeTimeout = 300 * time.Millisecond

// DetectResidentPort walks the loopback range looking for a resident that
// answers the PING handshake, and returns its port.
func DetectResidentPort(ctx context.Context) (int, bool) {
	start, end := getPortRange()
	for port := start; port <= end; port++ {
		if ctx.Err() != nil {
			return 0, false
		}
		if probeResident(ctx, port) {
			log.Printf("SingleInstance: resident found on port %d", port)
			return port, true
		}
	}
	return 0, false
}

// probeResident dials one port and runs the PING/PONG handshake. The per-port
// budget is probeTimeout, shrunk to whatever remains of ctx.
func probeResident(ctx context.Context, port int) bool {
	timeout := probeTimeout
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d > 0 && d < timeout {
			timeout = d
		}
	}
	addr := net.JoinHostPort(residentHost, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return false
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))
	if _, err := conn.Write([]byte(pingRequest)); err != nil {
		return false
	}
	resp, err := bufio.NewReader(conn).ReadString('\n')
	return err == nil && resp == pongResponse
}
