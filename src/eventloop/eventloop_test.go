package eventloop

import (
	"context"
	"errors"
	"image"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ikuradondai/erudaite-desktop/src/backend"
	"github.com/ikuradondai/erudaite-desktop/src/capture"
	"github.com/ikuradondai/erudaite-desktop/src/config"
	"github.com/ikuradondai/erudaite-desktop/src/messages"
	"github.com/ikuradondai/erudaite-desktop/src/ocr"
	"github.com/ikuradondai/erudaite-desktop/src/popup"
	"github.com/ikuradondai/erudaite-desktop/src/screenshot"
	"github.com/ikuradondai/erudaite-desktop/src/session"
	"github.com/ikuradondai/erudaite-desktop/src/singleinstance"
	"github.com/ikuradondai/erudaite-desktop/src/worker"
)

// --- fakes ---

type openCall struct {
	text   string
	target string
	ch     chan backend.StreamEvent
}

type scriptedOpener struct {
	mu    sync.Mutex
	calls []openCall
	seen  chan openCall
}

func newScriptedOpener() *scriptedOpener {
	return &scriptedOpener{seen: make(chan openCall, 16)}
}

func (o *scriptedOpener) open(ctx context.Context, text, target string) (<-chan backend.StreamEvent, error) {
	c := openCall{text: text, target: target, ch: make(chan backend.StreamEvent, 16)}
	o.mu.Lock()
	o.calls = append(o.calls, c)
	o.mu.Unlock()
	o.seen <- c
	return c.ch, nil
}

func (o *scriptedOpener) next(t *testing.T) openCall {
	t.Helper()
	select {
	case c := <-o.seen:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no stream opened")
		return openCall{}
	}
}

func delta(s string) backend.StreamEvent {
	return backend.StreamEvent{Type: backend.EventDelta, Content: s}
}

func done() backend.StreamEvent { return backend.StreamEvent{Type: backend.EventDone} }

type fakeWindow struct {
	mu      sync.Mutex
	visible bool
	states  []messages.PopupState
}

func (w *fakeWindow) Show() error  { w.mu.Lock(); w.visible = true; w.mu.Unlock(); return nil }
func (w *fakeWindow) Hide() error  { w.mu.Lock(); w.visible = false; w.mu.Unlock(); return nil }
func (w *fakeWindow) Close() error { return w.Hide() }
func (w *fakeWindow) Destroy() error {
	w.mu.Lock()
	w.visible = false
	w.mu.Unlock()
	return nil
}
func (w *fakeWindow) IsVisible() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.visible
}
func (w *fakeWindow) SetBounds(image.Rectangle) error { return nil }
func (w *fakeWindow) Focus() error                    { return nil }
func (w *fakeWindow) Render(st messages.PopupState) error {
	w.mu.Lock()
	w.states = append(w.states, st)
	w.mu.Unlock()
	return nil
}

func (w *fakeWindow) lastState() (messages.PopupState, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.states) == 0 {
		return messages.PopupState{}, false
	}
	return w.states[len(w.states)-1], true
}

type fakeBackend struct {
	mu      sync.Mutex
	created []*fakeWindow
}

func (b *fakeBackend) Create(bounds image.Rectangle, onReady func(string)) (popup.Window, error) {
	w := &fakeWindow{}
	b.mu.Lock()
	b.created = append(b.created, w)
	b.mu.Unlock()
	return w, nil
}

func (b *fakeBackend) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.created)
}

func (b *fakeBackend) window(i int) *fakeWindow {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.created[i]
}

type fakeDesktop struct{}

func (fakeDesktop) CursorPosition() (image.Point, error) { return image.Pt(500, 300), nil }
func (fakeDesktop) MonitorContaining(image.Point) (image.Rectangle, error) {
	return image.Rect(0, 0, 1920, 1080), nil
}

type fakeDetector struct {
	mu   sync.Mutex
	res  backend.DetectResult
	err  error
	gate chan struct{} // when non-nil, DetectLanguage waits on it
}

func (d *fakeDetector) DetectLanguage(ctx context.Context, text string) (backend.DetectResult, error) {
	d.mu.Lock()
	gate := d.gate
	res, err := d.res, d.err
	d.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return backend.DetectResult{}, ctx.Err()
		}
	}
	return res, err
}

type fakeSelector struct {
	sel       messages.OCRSelected
	cancelled bool
	err       error
}

func (s fakeSelector) Select(ctx context.Context) (messages.OCRSelected, bool, error) {
	return s.sel, s.cancelled, s.err
}

type recordingClipboard struct {
	mu     sync.Mutex
	writes []string
}

func (c *recordingClipboard) Read() string { return "" }
func (c *recordingClipboard) Write(text string) error {
	c.mu.Lock()
	c.writes = append(c.writes, text)
	c.mu.Unlock()
	return nil
}

func (c *recordingClipboard) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.writes...)
}

type notifyRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (n *notifyRecorder) notify(text string) {
	n.mu.Lock()
	n.lines = append(n.lines, text)
	n.mu.Unlock()
}

func (n *notifyRecorder) contains(sub string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, l := range n.lines {
		if strings.Contains(l, sub) {
			return true
		}
	}
	return false
}

type fakeServer struct{ ch chan singleinstance.Conn }

func (s *fakeServer) Start(ctx context.Context) error { return nil }
func (s *fakeServer) Port() int                       { return 0 }
func (s *fakeServer) Close() error                    { return nil }
func (s *fakeServer) Next(ctx context.Context) (singleinstance.Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case c := <-s.ch:
		return c, nil
	}
}

type fakeConn struct {
	req     singleinstance.Request
	mu      sync.Mutex
	success *string
	errMsg  *string
	closed  bool
}

func (c *fakeConn) Request() singleinstance.Request { return c.req }
func (c *fakeConn) RespondSuccess(text string) error {
	c.mu.Lock()
	c.success = &text
	c.mu.Unlock()
	return nil
}
func (c *fakeConn) RespondError(msg string) error {
	c.mu.Lock()
	c.errMsg = &msg
	c.mu.Unlock()
	return nil
}
func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// --- harness ---

type env struct {
	loop     *Loop
	store    *config.Store
	opener   *scriptedOpener
	sessions *session.Manager
	backend  *fakeBackend
	detector *fakeDetector
	clip     *recordingClipboard
	notes    *notifyRecorder
	cancel   context.CancelFunc
}

func newEnv(t *testing.T, mutate func(*Deps), settings func(*config.Settings)) *env {
	t.Helper()
	store, err := config.OpenStore(filepath.Join(t.TempDir(), "settings.json"))
	if err != nil {
		t.Fatal(err)
	}
	if settings != nil {
		if err := store.Update(settings); err != nil {
			t.Fatal(err)
		}
	}

	opener := newScriptedOpener()
	pb := &fakeBackend{}
	det := &fakeDetector{}
	clip := &recordingClipboard{}
	notes := &notifyRecorder{}

	deps := Deps{
		Store:     store,
		Detector:  det,
		Popup:     popup.NewController(pb, fakeDesktop{}, popup.Options{}),
		Selector:  fakeSelector{cancelled: true},
		Clipboard: clip,
		Notify:    notes.notify,
		Capture: func(ctx context.Context) (string, error) {
			return "hello there", nil
		},
		ProbeEngine: func(string) bool { return false },
	}
	deps.Pool = worker.NewWithRecognize(1, func(screenshot.Region, string, string) (string, error) {
		return "", ocr.ErrEngineNotFound
	})
	if mutate != nil {
		mutate(&deps)
	}

	var loop *Loop
	sessions := session.NewManager(opener.open, func(u session.Update) { loop.PostUpdate(u) })
	deps.Sessions = sessions
	loop = New(deps)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = loop.Run(ctx, nil) }()
	t.Cleanup(func() {
		cancel()
		deps.Pool.Close()
	})

	return &env{
		loop: loop, store: store, opener: opener, sessions: sessions,
		backend: pb, detector: det, clip: clip, notes: notes, cancel: cancel,
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// --- tests ---

func TestTranslateCompletesAndCopies(t *testing.T) {
	e := newEnv(t, nil, func(s *config.Settings) {
		s.RoutingStrategy = config.StrategyFixed
		s.FixedTargetLanguage = "German"
	})

	e.loop.TranslatePressed()
	call := e.opener.next(t)
	if call.target != "German" {
		t.Fatalf("target = %q, want German", call.target)
	}
	if call.text != "hello there" {
		t.Fatalf("text = %q", call.text)
	}

	call.ch <- delta("Hallo ")
	call.ch <- delta("zusammen")
	call.ch <- done()
	close(call.ch)

	eventually(t, "done state in popup", func() bool {
		if e.backend.count() == 0 {
			return false
		}
		st, ok := e.backend.window(0).lastState()
		return ok && st.Status == statusDone && st.Translation == "Hallo zusammen"
	})
	eventually(t, "clipboard write", func() bool {
		w := e.clip.all()
		return len(w) == 1 && w[0] == "Hallo zusammen"
	})
	eventually(t, "last-used persisted", func() bool {
		return e.store.Settings().LastUsedTarget == "German"
	})
}

func TestDetectionConfirmsSpeculation(t *testing.T) {
	e := newEnv(t, func(d *Deps) {
		d.Capture = func(context.Context) (string, error) { return "こんにちは世界", nil }
	}, nil)
	e.detector.mu.Lock()
	e.detector.res = backend.DetectResult{DetectedLang: "Japanese", Confidence: 0.99}
	e.detector.mu.Unlock()

	e.loop.TranslatePressed()
	call := e.opener.next(t)
	// Kana text routes toward the secondary language speculatively.
	if call.target != "English (US)" {
		t.Fatalf("target = %q", call.target)
	}

	call.ch <- delta("Hello world")
	call.ch <- done()
	close(call.ch)

	eventually(t, "completion", func() bool {
		if e.backend.count() == 0 {
			return false
		}
		st, ok := e.backend.window(0).lastState()
		return ok && st.Status == statusDone
	})
	// Detection agreed with the heuristic, so exactly one stream was opened.
	select {
	case c := <-e.opener.seen:
		t.Fatalf("unexpected second stream toward %q", c.target)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDetectionCorrectsSpeculation(t *testing.T) {
	gate := make(chan struct{})
	e := newEnv(t, func(d *Deps) {
		d.Capture = func(context.Context) (string, error) { return "bonjour mes amis", nil }
	}, nil)
	e.detector.mu.Lock()
	e.detector.gate = gate
	// Latin text defaults speculatively to the default language; detection
	// says it is actually on the default side, flipping the real target.
	e.detector.res = backend.DetectResult{DetectedLang: "Japanese", Confidence: 0.9}
	e.detector.mu.Unlock()

	e.loop.TranslatePressed()
	first := e.opener.next(t)

	// The speculative stream is already producing output.
	first.ch <- delta("stale ")
	close(gate)

	second := e.opener.next(t)
	if second.target == first.target {
		t.Fatalf("re-route kept target %q", second.target)
	}

	// Late chunks from the superseded stream must never surface.
	first.ch <- delta("chunk after supersede")
	close(first.ch)

	second.ch <- delta("fresh translation")
	second.ch <- done()
	close(second.ch)

	eventually(t, "fresh completion", func() bool {
		if e.backend.count() == 0 {
			return false
		}
		st, ok := e.backend.window(0).lastState()
		return ok && st.Status == statusDone && st.Translation == "fresh translation"
	})
	w := e.backend.window(0)
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, st := range w.states {
		if strings.Contains(st.Translation, "chunk after supersede") {
			t.Errorf("superseded chunk surfaced: %+v", st)
		}
	}
}

func TestSecondPressClosesPopup(t *testing.T) {
	e := newEnv(t, nil, nil)

	e.loop.TranslatePressed()
	call := e.opener.next(t)
	call.ch <- done()
	close(call.ch)

	eventually(t, "popup visible", func() bool {
		return e.backend.count() == 1 && e.backend.window(0).IsVisible()
	})

	// Second press dismisses instead of starting a new capture.
	e.loop.TranslatePressed()
	eventually(t, "popup closed", func() bool {
		return !e.backend.window(0).IsVisible()
	})
	select {
	case c := <-e.opener.seen:
		t.Fatalf("close press started a stream toward %q", c.target)
	case <-time.After(100 * time.Millisecond):
	}

	// Third press starts the next capture from scratch.
	e.loop.TranslatePressed()
	e.opener.next(t)
}

func TestOverlappingPressesCollapse(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	e := newEnv(t, func(d *Deps) {
		d.Capture = func(ctx context.Context) (string, error) {
			close(started)
			<-release
			return "text", nil
		}
	}, nil)

	e.loop.TranslatePressed()
	<-started
	for i := 0; i < 5; i++ {
		e.loop.TranslatePressed()
	}
	close(release)

	e.opener.next(t)
	// Only the first press proceeds; the rest were dropped by the guard.
	select {
	case c := <-e.opener.seen:
		t.Fatalf("overlapping press opened a stream toward %q", c.target)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestNoSelectionNotifies(t *testing.T) {
	e := newEnv(t, func(d *Deps) {
		d.Capture = func(context.Context) (string, error) { return "", capture.ErrNoSelection }
	}, nil)

	e.loop.TranslatePressed()
	eventually(t, "no-selection notice", func() bool {
		return e.notes.contains("No text selected")
	})
	if e.backend.count() != 0 {
		t.Error("popup opened without a selection")
	}
}

func TestCopyOnlySuppressesPopup(t *testing.T) {
	e := newEnv(t, nil, func(s *config.Settings) {
		s.ClipboardMode = config.ClipboardCopyOnly
		s.RoutingStrategy = config.StrategyFixed
		s.FixedTargetLanguage = "German"
	})

	e.loop.TranslatePressed()
	call := e.opener.next(t)
	call.ch <- delta("Hallo")
	call.ch <- done()
	close(call.ch)

	eventually(t, "clipboard write", func() bool {
		w := e.clip.all()
		return len(w) == 1 && w[0] == "Hallo"
	})
	eventually(t, "copy notice", func() bool {
		return e.notes.contains("Copied")
	})
	if e.backend.count() != 0 {
		t.Error("popup created in copy-only mode")
	}
}

func TestOCRDebounce(t *testing.T) {
	var selects sync.Mutex
	count := 0
	base := time.Now()
	now := base
	var clockMu sync.Mutex
	e := newEnv(t, func(d *Deps) {
		d.Selector = selectFunc(func(ctx context.Context) (messages.OCRSelected, bool, error) {
			selects.Lock()
			count++
			selects.Unlock()
			return messages.OCRSelected{}, true, nil
		})
		d.Now = func() time.Time {
			clockMu.Lock()
			defer clockMu.Unlock()
			return now
		}
	}, nil)

	e.loop.OCRPressed()
	eventually(t, "first selection", func() bool {
		selects.Lock()
		defer selects.Unlock()
		return count == 1
	})

	// 300ms later: inside the debounce window, dropped.
	clockMu.Lock()
	now = base.Add(300 * time.Millisecond)
	clockMu.Unlock()
	e.loop.OCRPressed()
	time.Sleep(100 * time.Millisecond)
	selects.Lock()
	got := count
	selects.Unlock()
	if got != 1 {
		t.Fatalf("selector ran %d times, want 1", got)
	}

	// Past the window: accepted.
	clockMu.Lock()
	now = base.Add(time.Second)
	clockMu.Unlock()
	e.loop.OCRPressed()
	eventually(t, "second selection", func() bool {
		selects.Lock()
		defer selects.Unlock()
		return count == 2
	})
}

type selectFunc func(ctx context.Context) (messages.OCRSelected, bool, error)

func (f selectFunc) Select(ctx context.Context) (messages.OCRSelected, bool, error) { return f(ctx) }

func TestOCRMissingEngineSurfacesGuidance(t *testing.T) {
	e := newEnv(t, func(d *Deps) {
		d.Selector = fakeSelector{sel: messages.OCRSelected{X: 1, Y: 1, Width: 50, Height: 20}}
	}, nil)

	e.loop.OCRPressed()
	eventually(t, "engine-missing notice", func() bool {
		return e.notes.contains("OCR engine not found")
	})
	eventually(t, "enable action in popup", func() bool {
		if e.backend.count() == 0 {
			return false
		}
		st, ok := e.backend.window(0).lastState()
		return ok && st.Action == messages.ActionEnableOCR
	})

	// Re-check with the probe still failing reports the engine as missing.
	e.loop.PostAction(messages.ActionRecheckOCR)
	eventually(t, "recheck notice", func() bool {
		return e.notes.contains("still missing")
	})
}

func TestOCRTextFeedsTranslation(t *testing.T) {
	e := newEnv(t, func(d *Deps) {
		d.Selector = fakeSelector{sel: messages.OCRSelected{X: 1, Y: 1, Width: 50, Height: 20}}
		d.Pool = worker.NewWithRecognize(1, func(screenshot.Region, string, string) (string, error) {
			return "recognized words", nil
		})
	}, func(s *config.Settings) {
		s.RoutingStrategy = config.StrategyFixed
		s.FixedTargetLanguage = "German"
	})

	e.loop.OCRPressed()
	call := e.opener.next(t)
	if call.text != "recognized words" {
		t.Fatalf("session text = %q", call.text)
	}
	if call.target != "German" {
		t.Fatalf("target = %q", call.target)
	}
	call.ch <- delta("erkannte Worte")
	call.ch <- done()
	close(call.ch)

	eventually(t, "popup done", func() bool {
		if e.backend.count() == 0 {
			return false
		}
		st, ok := e.backend.window(0).lastState()
		return ok && st.Status == statusDone
	})
}

func TestDelegatedRequestStdout(t *testing.T) {
	srvCh := make(chan singleinstance.Conn, 1)
	store, err := config.OpenStore(filepath.Join(t.TempDir(), "settings.json"))
	if err != nil {
		t.Fatal(err)
	}

	opener := newScriptedOpener()
	notes := &notifyRecorder{}
	deps := Deps{
		Store:       store,
		Detector:    &fakeDetector{},
		Popup:       popup.NewController(&fakeBackend{}, fakeDesktop{}, popup.Options{}),
		Selector:    fakeSelector{cancelled: true},
		Clipboard:   &recordingClipboard{},
		Notify:      notes.notify,
		Capture:     func(context.Context) (string, error) { return "delegate me", nil },
		ProbeEngine: func(string) bool { return false },
	}
	deps.Pool = worker.NewWithRecognize(1, func(screenshot.Region, string, string) (string, error) {
		return "", ocr.ErrEngineNotFound
	})

	var loop *Loop
	deps.Sessions = session.NewManager(opener.open, func(u session.Update) { loop.PostUpdate(u) })
	loop = New(deps)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx, &fakeServer{ch: srvCh}) }()
	defer deps.Pool.Close()

	conn := &fakeConn{req: singleinstance.Request{OutputToStdout: true, TargetLang: "German"}}
	srvCh <- conn

	call := opener.next(t)
	if call.target != "German" {
		t.Fatalf("delegated target = %q", call.target)
	}
	call.ch <- delta("Guten Tag")
	call.ch <- done()
	close(call.ch)

	eventually(t, "delegated response", func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return conn.success != nil && *conn.success == "Guten Tag" && conn.closed
	})
}

type failingPopupBackend struct{}

func (failingPopupBackend) Create(image.Rectangle, func(string)) (popup.Window, error) {
	return nil, errors.New("no window station")
}

func TestPopupOpenFailureNotifies(t *testing.T) {
	e := newEnv(t, func(d *Deps) {
		d.Popup = popup.NewController(failingPopupBackend{}, fakeDesktop{}, popup.Options{})
	}, func(s *config.Settings) {
		s.RoutingStrategy = config.StrategyFixed
		s.FixedTargetLanguage = "German"
	})

	e.loop.TranslatePressed()
	eventually(t, "open-failure notice", func() bool {
		return e.notes.contains("window failed")
	})

	// The stream still runs to completion and the result is still copied.
	call := e.opener.next(t)
	call.ch <- delta("Hallo")
	call.ch <- done()
	close(call.ch)
	eventually(t, "clipboard write", func() bool {
		w := e.clip.all()
		return len(w) == 1 && w[0] == "Hallo"
	})
}

func TestFixedStrategyShowsDetectedLanguage(t *testing.T) {
	e := newEnv(t, nil, func(s *config.Settings) {
		s.RoutingStrategy = config.StrategyFixed
		s.FixedTargetLanguage = "German"
	})
	e.detector.mu.Lock()
	e.detector.res = backend.DetectResult{DetectedLang: "French", Confidence: 0.95}
	e.detector.mu.Unlock()

	e.loop.TranslatePressed()
	call := e.opener.next(t)
	if call.target != "German" {
		t.Fatalf("target = %q", call.target)
	}

	eventually(t, "detected label in popup", func() bool {
		if e.backend.count() == 0 {
			return false
		}
		st, ok := e.backend.window(0).lastState()
		return ok && st.SourceLang == "French"
	})
	// Detection never re-routes a fixed-target stream.
	select {
	case c := <-e.opener.seen:
		t.Fatalf("fixed strategy re-routed toward %q", c.target)
	case <-time.After(100 * time.Millisecond):
	}

	call.ch <- delta("Hallo")
	call.ch <- done()
	close(call.ch)
	eventually(t, "label survives completion", func() bool {
		st, ok := e.backend.window(0).lastState()
		return ok && st.Status == statusDone && st.SourceLang == "French"
	})
}

func TestDetectErrorShowsUnknown(t *testing.T) {
	e := newEnv(t, nil, func(s *config.Settings) {
		s.RoutingStrategy = config.StrategyFixed
		s.FixedTargetLanguage = "German"
	})
	e.detector.mu.Lock()
	e.detector.err = errors.New("backend down")
	e.detector.mu.Unlock()

	e.loop.TranslatePressed()
	call := e.opener.next(t)

	eventually(t, "Unknown label in popup", func() bool {
		if e.backend.count() == 0 {
			return false
		}
		st, ok := e.backend.window(0).lastState()
		return ok && st.SourceLang == "Unknown"
	})

	call.ch <- done()
	close(call.ch)
}
