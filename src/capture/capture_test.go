package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClipboard struct {
	mu      sync.Mutex
	content string
	writes  []string
}

func (f *fakeClipboard) Read() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.content
}

func (f *fakeClipboard) Write(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.content = text
	f.writes = append(f.writes, text)
	return nil
}

func (f *fakeClipboard) set(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.content = text
}

func withCopySim(t *testing.T, fn func()) {
	t.Helper()
	old := simulateCopy
	simulateCopy = fn
	t.Cleanup(func() { simulateCopy = old })
}

func TestSelectionCapturesAndRestores(t *testing.T) {
	cb := &fakeClipboard{content: "previous contents"}
	withCopySim(t, func() {
		go func() {
			time.Sleep(20 * time.Millisecond)
			cb.set("selected text")
		}()
	})

	got, err := Selection(context.Background(), cb, time.Second)
	if err != nil {
		t.Fatalf("Selection: %v", err)
	}
	if got != "selected text" {
		t.Errorf("got %q, want %q", got, "selected text")
	}
	if cb.Read() != "previous contents" {
		t.Errorf("clipboard not restored, contains %q", cb.Read())
	}
}

func TestSelectionTimesOutWithoutSelection(t *testing.T) {
	cb := &fakeClipboard{content: "keep me"}
	withCopySim(t, func() {})

	_, err := Selection(context.Background(), cb, 150*time.Millisecond)
	if !errors.Is(err, ErrNoSelection) {
		t.Fatalf("err = %v, want ErrNoSelection", err)
	}
	if cb.Read() != "keep me" {
		t.Errorf("clipboard not restored, contains %q", cb.Read())
	}
}

func TestSelectionIgnoresWhitespaceOnlyCopy(t *testing.T) {
	cb := &fakeClipboard{}
	withCopySim(t, func() {
		cb.set("   \n\t ")
	})

	_, err := Selection(context.Background(), cb, 150*time.Millisecond)
	if !errors.Is(err, ErrNoSelection) {
		t.Fatalf("err = %v, want ErrNoSelection", err)
	}
}

func TestSelectionHonorsContext(t *testing.T) {
	cb := &fakeClipboard{}
	withCopySim(t, func() {})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Selection(ctx, cb, time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
