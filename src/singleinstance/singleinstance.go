package singleinstance

// Single-instance ownership plus translate-once delegation. A second
// invocation hands its request to the resident process instead of starting a
// duplicate hook/tray stack.

import (
	"context"
)

// Server owns the TCP endpoint and answers translate-once requests.
type Server interface {
	// Start binds the start port of the configured loopback range. A bind
	// failure means another resident already owns the instance.
	Start(ctx context.Context) error
	// Port returns the bound TCP port, or 0 if not started.
	Port() int
	// Next returns the next accepted connection as a Conn, or ctx error.
	Next(ctx context.Context) (Conn, error)
	// Close releases ownership and stops accepting clients.
	Close() error
}

// Conn represents one client connection.
type Conn interface {
	// Request returns the parsed client request.
	Request() Request
	// RespondSuccess sends success. For stdout mode, text carries the
	// translation; for clipboard mode it is empty.
	RespondSuccess(text string) error
	// RespondError sends an error with a human-readable message.
	RespondError(msg string) error
	// Close closes the underlying connection.
	Close() error
}

// Request is a single translate-once client request. TargetLang overrides the
// resident's routing when non-empty.
type Request struct {
	OutputToStdout bool
	TargetLang     string
}

// Client delegates a translate-once invocation to a resident server.
type Client interface {
	// TryRunOnce scans the configured port range, performs the handshake, and
	// delegates. If no resident is found, returns delegated=false, err=nil.
	TryRunOnce(ctx context.Context, outputToStdout bool, targetLang string) (delegated bool, text string, err error)
}

func NewServer() Server { return newTCPServer() }

func NewClient() Client { return newTCPClient() }
