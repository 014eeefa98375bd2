package singleinstance

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"
)

const (
	residentHost = "127.0.0.1"
	pingRequest  = "PING\n"
	pongResponse = "PONG\n"
)

type tcpServer struct {
	lis      net.Listener
	incoming chan *tcpConn
	done     chan struct{}
	stop     sync.Once
	port     int
}

func newTCPServer() Server {
	return &tcpServer{
		incoming: make(chan *tcpConn, 8),
		done:     make(chan struct{}),
	}
}

// Start binds ONLY the start port of the configured range. If occupied, fail.
func (s *tcpServer) Start(ctx context.Context) error {
	if s.lis != nil {
		return nil
	}
	start, _ := getPortRange()
	addr := fmt.Sprintf("%s:%d", residentHost, start)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		log.Printf("SingleInstance: failed to bind %s: %v", addr, err)
		return err
	}
	s.lis = lis
	s.port = start
	log.Printf("SingleInstance: listening on %s", addr)
	go s.acceptLoop(ctx)
	return nil
}

func (s *tcpServer) Port() int { return s.port }

func (s *tcpServer) acceptLoop(ctx context.Context) {
	for {
		c, err := s.lis.Accept()
		if err != nil {
			return
		}
		remote := c.RemoteAddr().String()
		_ = c.SetDeadline(time.Now().Add(3 * time.Second))
		br := bufio.NewReader(c)
		line, _ := br.ReadString('\n')
		bw := bufio.NewWriter(c)
		if line == pingRequest {
			_, _ = bw.WriteString(pongResponse)
			_ = bw.Flush()
			_ = c.Close()
			continue
		}
		_ = c.SetDeadline(time.Time{})
		req, ok := parseRequestLine(line)
		if !ok {
			_, _ = bw.WriteString("ERROR\nbad request")
			_ = bw.Flush()
			_ = c.Close()
			continue
		}
		log.Printf("SingleInstance: request from %s stdout=%v target=%q", remote, req.OutputToStdout, req.TargetLang)
		select {
		case s.incoming <- &tcpConn{c: c, r: req, w: bw}:
		case <-ctx.Done():
			_ = c.Close()
			return
		case <-s.done:
			_ = c.Close()
			return
		}
	}
}

// parseRequestLine accepts "STDOUT\n", "CLIPBOARD\n", or either followed by a
// target language, e.g. "STDOUT German\n".
func parseRequestLine(line string) (Request, bool) {
	line = strings.TrimRight(line, "\r\n")
	mode, lang, _ := strings.Cut(line, " ")
	switch mode {
	case "STDOUT":
		return Request{OutputToStdout: true, TargetLang: lang}, true
	case "CLIPBOARD":
		return Request{TargetLang: lang}, true
	}
	return Request{}, false
}

func (s *tcpServer) Next(ctx context.Context) (Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, net.ErrClosed
	case tc := <-s.incoming:
		return tc, nil
	}
}

// Close signals shutdown through the done channel instead of closing
// incoming: the accept loop may be mid-send on it.
func (s *tcpServer) Close() error {
	s.stop.Do(func() { close(s.done) })
	if s.lis != nil {
		_ = s.lis.Close()
		s.lis = nil
	}
	return nil
}

type tcpConn struct {
	c net.Conn
	r Request
	w *bufio.Writer
}

func (tc *tcpConn) Request() Request { return tc.r }

func (tc *tcpConn) RespondSuccess(text string) error {
	if _, err := tc.w.WriteString("SUCCESS\n"); err != nil {
		return err
	}
	if len(text) > 0 {
		if _, err := tc.w.WriteString(text); err != nil {
			return err
		}
	}
	return tc.w.Flush()
}

func (tc *tcpConn) RespondError(msg string) error {
	if _, err := tc.w.WriteString("ERROR\n" + msg); err != nil {
		return err
	}
	return tc.w.Flush()
}

func (tc *tcpConn) Close() error { return tc.c.Close() }
