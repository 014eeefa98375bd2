// Package capture grabs the user's current selection by simulating the copy
// shortcut and watching the clipboard, then putting the original contents
// back.
package capture

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/go-vgo/robotgo"
)

// ErrNoSelection reports that nothing landed on the clipboard before the
// timeout, i.e. the user had no text selected.
var ErrNoSelection = errors.New("no text selected")

const pollInterval = 80 * time.Millisecond

// Clipboard is the small surface Selection needs. The real implementation
// lives in the clipboard package.
type Clipboard interface {
	Read() string
	Write(text string) error
}

// simulateCopy is a seam for tests.
var simulateCopy = func() {
	robotgo.KeyTap("c", "ctrl")
}

// Selection captures the currently selected text. It saves the clipboard,
// clears it so a fresh copy is detectable, simulates Ctrl+C, polls until text
// appears or the timeout expires, and restores the saved contents either way.
func Selection(ctx context.Context, cb Clipboard, timeout time.Duration) (string, error) {
	saved := cb.Read()
	if err := cb.Write(""); err != nil {
		return "", err
	}
	defer func() {
		if err := cb.Write(saved); err != nil {
			log.Printf("Capture: clipboard restore failed: %v", err)
		}
	}()

	simulateCopy()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(pollInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline.C:
			return "", ErrNoSelection
		case <-tick.C:
			if text, ok := pickCapturedText(cb.Read()); ok {
				return text, nil
			}
		}
	}
}

// pickCapturedText decides whether a clipboard read counts as a captured
// selection. Whitespace-only copies are treated as empty.
func pickCapturedText(raw string) (string, bool) {
	if strings.TrimSpace(raw) == "" {
		return "", false
	}
	return raw, true
}
