package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/ikuradondai/erudaite-desktop/src/backend"
	"github.com/ikuradondai/erudaite-desktop/src/clipboard"
	"github.com/ikuradondai/erudaite-desktop/src/config"
	"github.com/ikuradondai/erudaite-desktop/src/eventloop"
	"github.com/ikuradondai/erudaite-desktop/src/hotkey"
	"github.com/ikuradondai/erudaite-desktop/src/langtag"
	"github.com/ikuradondai/erudaite-desktop/src/logutil"
	"github.com/ikuradondai/erudaite-desktop/src/messages"
	"github.com/ikuradondai/erudaite-desktop/src/ocr"
	"github.com/ikuradondai/erudaite-desktop/src/overlay"
	"github.com/ikuradondai/erudaite-desktop/src/popup"
	"github.com/ikuradondai/erudaite-desktop/src/session"
	"github.com/ikuradondai/erudaite-desktop/src/singleinstance"
	"github.com/ikuradondai/erudaite-desktop/src/tray"
	"github.com/ikuradondai/erudaite-desktop/src/worker"
)

// sysClipboard adapts the package-level clipboard functions to the interface
// the capture path takes.
type sysClipboard struct{}

func (sysClipboard) Read() string            { return clipboard.Read() }
func (sysClipboard) Write(text string) error { return clipboard.Write(text) }

// normalizeFlagDashes maps GNU-style --translate-once to Go's -translate-once.
func normalizeFlagDashes() {
	for i := 1; i < len(os.Args); i++ {
		if strings.HasPrefix(os.Args[i], "--") {
			os.Args[i] = os.Args[i][1:]
		}
	}
}

func main() {
	// Ensure DPI awareness before creating any windows or querying metrics.
	enableDPIAwareness()

	// Keep main off the popup thread's message queue.
	runtime.LockOSThread()

	translateOnce := flag.Bool("translate-once", false, "Delegate one translation of the current selection to the resident and exit")
	toStdout := flag.Bool("stdout", false, "With -translate-once, print the translation instead of leaving it on the clipboard")
	target := flag.String("target", "", "With -translate-once, override the target language")
	normalizeFlagDashes()
	flag.Parse()

	if *translateOnce {
		// Load .env early so ERUDAITE_PORT_* are applied before the scan.
		_, _ = config.Load()
		runTranslateOnce(*toStdout, *target)
		return
	}

	_, _ = config.Load()

	// Pre-flight: if the delegation port answers PING, a resident already exists.
	preflight, cancelPreflight := context.WithTimeout(context.Background(), 500*time.Millisecond)
	port, running := singleinstance.DetectResidentPort(preflight)
	cancelPreflight()
	if running {
		fmt.Printf("already running (resident on port %d)\n", port)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logutil.Setup(cfg.EnableFileLogging)

	store, err := config.OpenStore(cfg.SettingsPath)
	if err != nil {
		log.Fatalf("Failed to open settings store: %v", err)
	}
	settings := store.Settings()

	if err := clipboard.Init(); err != nil {
		log.Fatalf("Failed to initialize clipboard: %v", err)
	}

	client := backend.New(cfg.BaseURL)
	log.Printf("Backend: %s", client.BaseURL)
	log.Printf("Hotkeys: translate=%s ocr=%s", settings.TranslateHotkey, settings.OCRHotkey)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	popupCtl := popup.NewController(popup.NewNativeBackend(), popup.NewDesktop(), popup.Options{
		FocusOnOpen: settings.PopupFocusOnOpen,
	})

	opener := func(ctx context.Context, text, targetLang string) (<-chan backend.StreamEvent, error) {
		s := store.Settings()
		return client.OpenTranslationStream(ctx, backend.StreamRequest{
			Text:            text,
			TargetLang:      targetLang,
			Mode:            s.TranslationMode,
			ExplanationLang: s.ExplanationLanguage,
			IsReverse:       langtag.Same(targetLang, s.DefaultLanguage),
		})
	}

	var loop *eventloop.Loop
	sessions := session.NewManager(opener, func(u session.Update) { loop.PostUpdate(u) })

	pool := worker.New(0)
	defer pool.Close()

	loop = eventloop.New(eventloop.Deps{
		Store:     store,
		Sessions:  sessions,
		Detector:  client,
		Popup:     popupCtl,
		Selector:  overlay.NewSelector(),
		Pool:      pool,
		Clipboard: sysClipboard{},
		Notify:    tray.SetStatus,
	})

	srv := singleinstance.NewServer()
	if err := srv.Start(ctx); err != nil {
		log.Fatalf("Failed to claim single-instance port: %v", err)
	}
	defer srv.Close()
	log.Printf("Resident listening on 127.0.0.1:%d", srv.Port())

	hotkey.Listen([]hotkey.Binding{
		{Combo: settings.TranslateHotkey, Callback: loop.TranslatePressed},
		{Combo: settings.OCRHotkey, Callback: loop.OCRPressed},
	})

	if !ocr.EngineAvailable(settings.OCREnginePath) {
		log.Printf("OCR engine not found at startup; the %s hotkey will surface install guidance", settings.OCRHotkey)
	}

	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
		tray.Quit()
	}()

	go func() {
		if err := loop.Run(ctx, srv); err != nil && ctx.Err() == nil {
			log.Printf("event loop stopped: %v", err)
		}
		tray.Quit()
	}()

	// Blocks until Quit; systray wants the main thread.
	tray.Run(tray.Handlers{
		OnTranslate:  loop.TranslatePressed,
		OnRecheckOCR: func() { loop.PostAction(messages.ActionRecheckOCR) },
		OnQuit:       cancel,
	})
}

// runTranslateOnce delegates a single translation to the resident process.
func runTranslateOnce(toStdout bool, target string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := singleinstance.NewClient()
	delegated, text, err := client.TryRunOnce(ctx, toStdout, target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "translate-once failed: %v\n", err)
		os.Exit(1)
	}
	if !delegated {
		fmt.Fprintln(os.Stderr, "no resident instance found; start the application first")
		os.Exit(1)
	}
	if toStdout {
		fmt.Print(text)
	}
}
