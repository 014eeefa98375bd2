package singleinstance

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

type tcpClient struct{}

func newTCPClient() Client { return &tcpClient{} }

func (c *tcpClient) TryRunOnce(ctx context.Context, outputToStdout bool, targetLang string) (bool, string, error) {
	deadline := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d > 0 {
			deadline = d
		}
	}
	start, end := getPortRange()
	for port := start; port <= end; port++ {
		addr := net.JoinHostPort(residentHost, strconv.Itoa(port))
		if !probeResident(ctx, port) {
			continue
		}
		conn, err := net.DialTimeout("tcp", addr, deadline)
		if err != nil {
			continue
		}
		w := bufio.NewWriter(conn)
		if _, err := w.WriteString(requestLine(outputToStdout, targetLang)); err != nil {
			conn.Close()
			return true, "", err
		}
		if err := w.Flush(); err != nil {
			conn.Close()
			return true, "", err
		}
		br := bufio.NewReader(conn)
		status, err := br.ReadString('\n')
		if err != nil {
			conn.Close()
			return true, "", err
		}
		switch status {
		case "SUCCESS\n":
			b, _ := io.ReadAll(br)
			conn.Close()
			return true, string(b), nil
		case "ERROR\n":
			msg, _ := io.ReadAll(br)
			conn.Close()
			return true, "", errors.New(string(msg))
		}
		conn.Close()
	}
	return false, "", nil
}

func requestLine(outputToStdout bool, targetLang string) string {
	mode := "CLIPBOARD"
	if outputToStdout {
		mode = "STDOUT"
	}
	if targetLang = strings.TrimSpace(targetLang); targetLang != "" {
		return mode + " " + targetLang + "\n"
	}
	return mode + "\n"
}
