package eventloop

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ikuradondai/erudaite-desktop/src/backend"
	"github.com/ikuradondai/erudaite-desktop/src/capture"
	"github.com/ikuradondai/erudaite-desktop/src/config"
	"github.com/ikuradondai/erudaite-desktop/src/langtag"
	"github.com/ikuradondai/erudaite-desktop/src/messages"
	"github.com/ikuradondai/erudaite-desktop/src/ocr"
	"github.com/ikuradondai/erudaite-desktop/src/popup"
	"github.com/ikuradondai/erudaite-desktop/src/routing"
	"github.com/ikuradondai/erudaite-desktop/src/screenshot"
	"github.com/ikuradondai/erudaite-desktop/src/session"
	"github.com/ikuradondai/erudaite-desktop/src/singleinstance"
	"github.com/ikuradondai/erudaite-desktop/src/worker"
)

const (
	statusTranslating = "Translating"
	statusDone        = "Done"
	statusError       = "Error"

	// Presses of the OCR hotkey inside this window are treated as key repeat.
	ocrDebounce = 800 * time.Millisecond
)

// Detector resolves the source language of captured text.
type Detector interface {
	DetectLanguage(ctx context.Context, text string) (backend.DetectResult, error)
}

// CaptureFunc grabs the current selection. Injectable for tests.
type CaptureFunc func(ctx context.Context) (string, error)

// Selector starts the fullscreen region selection overlay.
type Selector interface {
	Select(ctx context.Context) (messages.OCRSelected, bool, error)
}

// Deps wires the loop to its collaborators.
type Deps struct {
	Store    *config.Store
	Sessions *session.Manager
	Detector Detector
	Popup    *popup.Controller
	Selector Selector
	Pool     *worker.Pool
	Capture  CaptureFunc
	// Clipboard receives the final translation in displayAndCopy/copyOnly modes.
	Clipboard capture.Clipboard
	// Notify surfaces out-of-popup status lines (the tray by default).
	Notify func(text string)
	// ProbeEngine reports OCR engine availability. Defaults to ocr.EngineAvailable.
	ProbeEngine func(enginePath string) bool
	// Now is the clock used for debounce decisions. Defaults to time.Now.
	Now func() time.Time
}

// translateRequest is one pass through the translation pipeline, whichever
// surface it came from.
type translateRequest struct {
	text           string // pre-captured text (OCR, delegation); empty means capture
	targetOverride string // delegation may force a target
	headless       bool   // no popup: delegated requests and copyOnly mode
	conn           singleinstance.Conn
	outputToStdout bool
}

type captureDone struct {
	req  translateRequest
	text string
	err  error
}

type translateDone struct {
	req    translateRequest
	source string
	text   string
	target string
	err    error
}

type ocrDone struct {
	text      string
	cancelled bool
	err       error
}

// detectDone carries the authoritative detection verdict back onto the loop.
// label is a display label, langtag.Unknown when detection failed or returned
// nothing usable.
type detectDone struct {
	gen      uint64
	s        *session.Session
	label    string
	reroute  bool
	text     string
	settings config.Settings
}

// Loop is the single-threaded coordinator. All shared state below the channel
// fields is touched only from Run's goroutine, which is also the sole writer
// of popup state once a stream is live.
type Loop struct {
	deps Deps

	translatePressCh chan struct{}
	ocrPressCh       chan struct{}
	updateCh         chan session.Update
	captureDoneCh    chan captureDone
	translateDoneCh  chan translateDone
	ocrDoneCh        chan ocrDone
	detectDoneCh     chan detectDone
	actionCh         chan string

	translateInFlight bool
	ocrInFlight       bool
	lastOCRPress      time.Time
	currentGen        uint64
	currentSource     string
	currentDetected   string
	currentVisible    bool
}

// New creates the loop. Wire the session manager's UpdateFunc to PostUpdate.
func New(deps Deps) *Loop {
	if deps.Capture == nil {
		deps.Capture = func(ctx context.Context) (string, error) {
			return capture.Selection(ctx, deps.Clipboard, 1600*time.Millisecond)
		}
	}
	if deps.Notify == nil {
		deps.Notify = func(string) {}
	}
	if deps.ProbeEngine == nil {
		deps.ProbeEngine = ocr.EngineAvailable
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Loop{
		deps:             deps,
		translatePressCh: make(chan struct{}, 1),
		ocrPressCh:       make(chan struct{}, 1),
		updateCh:         make(chan session.Update, 64),
		captureDoneCh:    make(chan captureDone, 4),
		translateDoneCh:  make(chan translateDone, 4),
		ocrDoneCh:        make(chan ocrDone, 4),
		detectDoneCh:     make(chan detectDone, 4),
		actionCh:         make(chan string, 4),
	}
}

// PostUpdate feeds a session update into the loop. Safe from any goroutine;
// intended as the session manager's UpdateFunc.
func (l *Loop) PostUpdate(u session.Update) {
	select {
	case l.updateCh <- u:
	default:
		// A full queue means the loop is behind on renders; drop the
		// intermediate frame, a newer one is coming.
	}
}

// TranslatePressed posts a translate-hotkey press. Extra presses while one is
// pending collapse into it.
func (l *Loop) TranslatePressed() {
	select {
	case l.translatePressCh <- struct{}{}:
	default:
	}
}

// OCRPressed posts an OCR-hotkey press.
func (l *Loop) OCRPressed() {
	select {
	case l.ocrPressCh <- struct{}{}:
	default:
	}
}

// PostAction feeds a popup action (enable OCR, re-check OCR) into the loop.
func (l *Loop) PostAction(action string) {
	select {
	case l.actionCh <- action:
	default:
	}
}

// Run processes events until ctx is cancelled. srv may be nil (no delegation
// endpoint, used by tests).
func (l *Loop) Run(ctx context.Context, srv singleinstance.Server) error {
	reqCh := make(chan singleinstance.Conn, 4)
	if srv != nil {
		go func() {
			for {
				conn, err := srv.Next(ctx)
				if err != nil {
					close(reqCh)
					return
				}
				reqCh <- conn
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.translatePressCh:
			l.handleTranslatePress(ctx)
		case <-l.ocrPressCh:
			l.handleOCRPress(ctx)
		case u := <-l.updateCh:
			l.handleUpdate(u)
		case cd := <-l.captureDoneCh:
			l.handleCaptureDone(ctx, cd)
		case done := <-l.translateDoneCh:
			l.handleTranslateDone(done)
		case done := <-l.ocrDoneCh:
			l.handleOCRDone(ctx, done)
		case d := <-l.detectDoneCh:
			l.handleDetectDone(ctx, d)
		case action := <-l.actionCh:
			l.handleAction(action)
		case conn, ok := <-reqCh:
			if !ok {
				return nil
			}
			l.handleConn(ctx, conn)
		}
	}
}

// handleTranslatePress runs the toggle-close check before the in-flight
// guard: a visible popup consumes the press outright.
func (l *Loop) handleTranslatePress(ctx context.Context) {
	if l.deps.Popup != nil && l.deps.Popup.CloseIfOpen() {
		log.Printf("Loop: translate press consumed by popup close")
		l.currentVisible = false
		return
	}
	if l.translateInFlight {
		log.Printf("Loop: translate press dropped, request in flight")
		return
	}
	l.startTranslate(ctx, translateRequest{})
}

// startTranslate sets the in-flight flag and either begins the session
// immediately (text already known) or captures the selection off-loop first.
func (l *Loop) startTranslate(ctx context.Context, req translateRequest) {
	l.translateInFlight = true
	if req.text != "" {
		l.beginSession(ctx, req, req.text)
		return
	}
	go func() {
		text, err := l.deps.Capture(ctx)
		l.captureDoneCh <- captureDone{req: req, text: text, err: err}
	}()
}

func (l *Loop) handleCaptureDone(ctx context.Context, cd captureDone) {
	if cd.err != nil {
		l.handleTranslateDone(translateDone{req: cd.req, err: cd.err})
		return
	}
	l.beginSession(ctx, cd.req, cd.text)
}

// beginSession runs on the loop goroutine: routing, popup open, session
// start. The slow work (await, detection) happens on its own goroutines and
// reports back via translateDoneCh / detectDoneCh.
func (l *Loop) beginSession(ctx context.Context, req translateRequest, text string) {
	settings := l.deps.Store.Settings()
	if settings.ClipboardMode == config.ClipboardCopyOnly {
		req.headless = true
	}

	target := req.targetOverride
	recheck := false
	if target == "" {
		decision := routing.Resolve(settings, text)
		target, recheck = decision.Target, decision.RecheckOnDetect
	}

	l.currentGen++
	l.currentDetected = ""
	if !req.headless && l.deps.Popup != nil {
		if err := l.deps.Popup.EnsureAtCursor(); err != nil {
			log.Printf("Loop: popup open failed: %v", err)
			l.deps.Notify("Translation window failed to open")
		} else {
			l.markVisible(text)
			l.deps.Popup.Push(messages.PopupState{Status: statusTranslating, Source: text})
		}
	}

	s := l.deps.Sessions.Start(ctx, text, target)
	if l.deps.Detector != nil && (recheck || !req.headless) {
		go l.detectSource(ctx, l.currentGen, s, text, settings, recheck)
	}
	go func() {
		final, finalTarget, err := l.deps.Sessions.AwaitActive(ctx)
		l.translateDoneCh <- translateDone{req: req, source: text, text: final, target: finalTarget, err: err}
	}()
}

// detectSource asks the backend what the text actually is. The verdict always
// comes back as a display label (Unknown on error); whether it may re-route
// the session is decided by the routing strategy, carried in reroute.
func (l *Loop) detectSource(ctx context.Context, gen uint64, s *session.Session, text string, settings config.Settings, reroute bool) {
	label := langtag.Unknown
	res, err := l.deps.Detector.DetectLanguage(ctx, text)
	if err != nil {
		log.Printf("Loop: language detection failed: %v", err)
	} else if res.DetectedLang != "" {
		label = res.DetectedLang
	}
	l.detectDoneCh <- detectDone{gen: gen, s: s, label: label, reroute: reroute, text: text, settings: settings}
}

// handleDetectDone surfaces the detected source language and, for strategies
// that allow it, restarts the stream when the heuristic guessed the wrong
// side of the language pair. The superseded stream keeps draining; its output
// is gated out by run ID.
func (l *Loop) handleDetectDone(ctx context.Context, d detectDone) {
	if d.gen != l.currentGen {
		return
	}
	l.currentDetected = d.label
	if l.currentVisible && l.deps.Popup != nil {
		st, ok := l.deps.Popup.Last()
		if !ok {
			st = messages.PopupState{Status: statusTranslating, Source: l.currentSource}
		}
		st.SourceLang = d.label
		l.deps.Popup.Push(st)
	}

	if !d.reroute || d.label == langtag.Unknown {
		return
	}
	real := routing.RealTarget(d.settings, d.label)
	if !routing.ShouldReroute(d.s.Target(), real) {
		return
	}
	if l.deps.Sessions.Active() != d.s || d.s.Status() != session.StatusRunning {
		return
	}
	log.Printf("Loop: detected %q, re-routing %q -> %q", d.label, d.s.Target(), real)
	l.deps.Sessions.Start(ctx, d.text, real)
}

// handleUpdate merges a streaming update into the popup. Freshness is
// re-checked here against the manager, on top of the manager's own gate.
func (l *Loop) handleUpdate(u session.Update) {
	active := l.deps.Sessions.Active()
	if active == nil || active.RunID() != u.RunID {
		return
	}
	if l.deps.Popup == nil || !l.currentVisible {
		return
	}
	st := messages.PopupState{Source: l.currentSource, SourceLang: l.currentDetected, Translation: u.Translation}
	switch u.Status {
	case session.StatusRunning:
		st.Status = statusTranslating
	case session.StatusCompleted:
		st.Status = statusDone
	case session.StatusFailed:
		st.Status = statusError
		st.Translation = u.Err
	default:
		return
	}
	l.deps.Popup.Push(st)
}

func (l *Loop) handleTranslateDone(done translateDone) {
	l.translateInFlight = false
	req := done.req
	defer func() {
		if req.conn != nil {
			_ = req.conn.Close()
		}
	}()

	if done.err != nil {
		l.reportTranslateError(done)
		return
	}

	settings := l.deps.Store.Settings()
	writeFailed := false
	switch settings.ClipboardMode {
	case config.ClipboardDisplayAndCopy, config.ClipboardCopyOnly:
		if l.deps.Clipboard != nil {
			if err := l.deps.Clipboard.Write(done.text); err != nil {
				log.Printf("Loop: clipboard write failed: %v", err)
				writeFailed = true
			}
		}
	}
	if settings.ClipboardMode == config.ClipboardCopyOnly && !writeFailed {
		l.deps.Notify(fmt.Sprintf("Copied %s translation", done.target))
	}

	if done.target != "" {
		if err := l.deps.Store.Update(func(s *config.Settings) {
			s.LastUsedTarget = done.target
		}); err != nil {
			log.Printf("Loop: persisting last-used target failed: %v", err)
		}
	}

	if req.conn != nil {
		if req.outputToStdout {
			_ = req.conn.RespondSuccess(done.text)
		} else {
			_ = req.conn.RespondSuccess("")
		}
	}
}

func (l *Loop) reportTranslateError(done translateDone) {
	log.Printf("Loop: translate failed: %v", done.err)
	if done.req.conn != nil {
		_ = done.req.conn.RespondError(done.err.Error())
		return
	}
	if errors.Is(done.err, capture.ErrNoSelection) {
		l.deps.Notify("No text selected")
		return
	}
	if errors.Is(done.err, context.Canceled) {
		return
	}
	if l.currentVisible && l.deps.Popup != nil {
		l.deps.Popup.Push(messages.PopupState{Status: statusError, Source: done.source, SourceLang: l.currentDetected, Translation: done.err.Error()})
	} else {
		l.deps.Notify("Translation failed")
	}
}

func (l *Loop) handleOCRPress(ctx context.Context) {
	now := l.deps.Now()
	if now.Sub(l.lastOCRPress) < ocrDebounce {
		log.Printf("Loop: OCR press inside debounce window, dropped")
		return
	}
	l.lastOCRPress = now
	if l.ocrInFlight {
		log.Printf("Loop: OCR press dropped, request in flight")
		return
	}
	l.ocrInFlight = true
	go l.ocrFlow(ctx)
}

func (l *Loop) ocrFlow(ctx context.Context) {
	sel, cancelled, err := l.deps.Selector.Select(ctx)
	if err != nil || cancelled {
		if err != nil {
			log.Printf("Loop: region selection failed: %v", err)
		}
		l.ocrDoneCh <- ocrDone{cancelled: cancelled, err: err}
		return
	}

	settings := l.deps.Store.Settings()
	region := screenshot.Region{X: sel.X, Y: sel.Y, Width: sel.Width, Height: sel.Height}
	jobCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	submitted := l.deps.Pool.Submit(jobCtx, region, settings.OCRLanguage, settings.OCREnginePath, func(text string, err error) {
		cancel()
		l.ocrDoneCh <- ocrDone{text: text, err: err}
	})
	if !submitted {
		cancel()
		l.ocrDoneCh <- ocrDone{err: errors.New("ocr queue full")}
	}
}

// handleOCRDone feeds recognized text into the translation pipeline. A missing
// engine surfaces install guidance instead of a raw failure.
func (l *Loop) handleOCRDone(ctx context.Context, done ocrDone) {
	l.ocrInFlight = false
	if done.err != nil {
		if errors.Is(done.err, ocr.ErrEngineNotFound) {
			l.surfaceEngineMissing()
		}
		return
	}
	if done.cancelled {
		return
	}
	if done.text == "" {
		l.deps.Notify("No text recognized")
		return
	}
	if l.translateInFlight {
		log.Printf("Loop: OCR text dropped, translation in flight")
		return
	}
	l.startTranslate(ctx, translateRequest{text: done.text})
}

func (l *Loop) surfaceEngineMissing() {
	l.deps.Notify("OCR engine not found")
	if l.deps.Popup == nil {
		return
	}
	if err := l.deps.Popup.EnsureAtCursor(); err != nil {
		log.Printf("Loop: popup open failed: %v", err)
		return
	}
	l.markVisible("")
	l.deps.Popup.Push(messages.PopupState{
		Status:      statusError,
		Translation: "Tesseract is not installed or not on PATH.",
		Action:      messages.ActionEnableOCR,
	})
}

func (l *Loop) handleAction(action string) {
	switch action {
	case messages.ActionEnableOCR:
		l.deps.Notify("Install Tesseract and set ocrEnginePath in settings, then re-check")
		if l.currentVisible && l.deps.Popup != nil {
			l.deps.Popup.Push(messages.PopupState{
				Status:      statusError,
				Translation: "Install Tesseract (https://tesseract-ocr.github.io), set ocrEnginePath in settings if it is off PATH, then choose Re-check.",
				Action:      messages.ActionRecheckOCR,
			})
		}
	case messages.ActionRecheckOCR:
		settings := l.deps.Store.Settings()
		if l.deps.ProbeEngine(settings.OCREnginePath) {
			l.deps.Notify("OCR engine found")
			if l.currentVisible && l.deps.Popup != nil {
				l.deps.Popup.Push(messages.PopupState{Status: statusDone, Translation: "OCR engine found."})
			}
		} else {
			l.deps.Notify("OCR engine still missing")
		}
	default:
		log.Printf("Loop: unknown action %q", action)
	}
}

// handleConn serves a delegated translate-once request. It reuses the full
// pipeline with the popup suppressed.
func (l *Loop) handleConn(ctx context.Context, conn singleinstance.Conn) {
	req := conn.Request()
	if l.translateInFlight {
		_ = conn.RespondError("busy, please retry")
		_ = conn.Close()
		return
	}
	l.startTranslate(ctx, translateRequest{
		targetOverride: req.TargetLang,
		headless:       true,
		conn:           conn,
		outputToStdout: req.OutputToStdout,
	})
}

func (l *Loop) markVisible(source string) {
	l.currentVisible = true
	l.currentSource = source
}
