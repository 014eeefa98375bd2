package tray

import (
	"log"

	"github.com/getlantern/systray"
)

// Handlers carries the menu callbacks. Nil entries disable the matching item.
type Handlers struct {
	OnTranslate  func()
	OnRecheckOCR func()
	OnQuit       func()
}

var statusItem *systray.MenuItem

// Run starts the systray and blocks until Quit. Must run on the main thread
// on most platforms.
func Run(h Handlers) {
	systray.Run(func() { onReady(h) }, onExit)
}

// Quit tears the tray down and unblocks Run.
func Quit() {
	systray.Quit()
}

// SetStatus updates the status line shown at the top of the tray menu. Used
// for copy-only completions and OCR availability notices.
func SetStatus(text string) {
	if statusItem == nil {
		return
	}
	statusItem.SetTitle(text)
	systray.SetTooltip("Erudaite: " + text)
}

func onReady(h Handlers) {
	systray.SetIcon(getIcon())
	systray.SetTitle("Erudaite")
	systray.SetTooltip("Erudaite")

	statusItem = systray.AddMenuItem("Ready", "Last activity")
	statusItem.Disable()
	systray.AddSeparator()
	mTranslate := systray.AddMenuItem("Translate Selection", "Translate the current selection")
	mRecheck := systray.AddMenuItem("Re-check OCR Engine", "Probe for a Tesseract installation again")
	mQuit := systray.AddMenuItem("Quit", "Quit the application")

	go func() {
		for {
			select {
			case <-mTranslate.ClickedCh:
				if h.OnTranslate != nil {
					h.OnTranslate()
				}
			case <-mRecheck.ClickedCh:
				if h.OnRecheckOCR != nil {
					h.OnRecheckOCR()
				}
			case <-mQuit.ClickedCh:
				log.Printf("Tray: quit requested")
				if h.OnQuit != nil {
					h.OnQuit()
				}
				systray.Quit()
				return
			}
		}
	}()
}

func onExit() {
	statusItem = nil
}
