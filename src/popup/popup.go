package popup

import (
	"fmt"
	"image"
	"log"
	"sync"

	"github.com/ikuradondai/erudaite-desktop/src/messages"
)

// Phase is the lifecycle state of the result popup.
type Phase int

const (
	PhaseAbsent Phase = iota
	PhaseCreating
	PhaseVisible
	PhaseHidden
	PhaseDestroying
)

func (p Phase) String() string {
	switch p {
	case PhaseAbsent:
		return "Absent"
	case PhaseCreating:
		return "Creating"
	case PhaseVisible:
		return "Visible"
	case PhaseHidden:
		return "Hidden"
	default:
		return "Destroying"
	}
}

// Window is one native popup window instance.
type Window interface {
	Show() error
	Hide() error
	// Close asks the platform to close the window; Destroy force-destroys it.
	// Some platforms leave a live handle behind a failed close, which is why
	// both exist.
	Close() error
	Destroy() error
	// IsVisible reports whether the window is genuinely on screen, not merely
	// whether the handle is alive.
	IsVisible() bool
	SetBounds(image.Rectangle) error
	Focus() error
	Render(messages.PopupState) error
}

// Backend creates native popup windows. onReady fires once the window can
// render and expects a state flush in response.
type Backend interface {
	Create(bounds image.Rectangle, onReady func(label string)) (Window, error)
}

// Desktop answers cursor and monitor geometry questions.
type Desktop interface {
	CursorPosition() (image.Point, error)
	MonitorContaining(image.Point) (image.Rectangle, error)
}

// Options tune popup geometry and focus behavior.
type Options struct {
	Width       int
	Height      int
	Offset      int
	FocusOnOpen bool
}

// Controller owns the result-popup handle. At most one live window exists per
// controller; the handle is reconciled against actual visibility on every
// access so a platform race can never leave a zombie identity blocking
// recreation.
type Controller struct {
	mu      sync.Mutex
	backend Backend
	desktop Desktop
	opts    Options

	phase Phase
	win   Window

	last      messages.PopupState
	haveState bool
}

// NewController creates a popup controller in the Absent state.
func NewController(backend Backend, desktop Desktop, opts Options) *Controller {
	if opts.Width <= 0 {
		opts.Width = 360
	}
	if opts.Height <= 0 {
		opts.Height = 220
	}
	if opts.Offset <= 0 {
		opts.Offset = 16
	}
	return &Controller{backend: backend, desktop: desktop, opts: opts}
}

// Phase returns the current lifecycle state.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// EnsureAtCursor makes a popup visible near the cursor. A genuinely visible
// window is just repositioned (and refocused when configured); a handle that
// survived without a live window is force-destroyed first so reopening is
// never blocked by a stale identity.
func (c *Controller) EnsureAtCursor() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	bounds, err := c.placementLocked()
	if err != nil {
		return fmt.Errorf("popup placement: %w", err)
	}

	if c.win != nil {
		if c.win.IsVisible() {
			_ = c.win.SetBounds(bounds)
			if c.opts.FocusOnOpen {
				_ = c.win.Focus()
			}
			c.phase = PhaseVisible
			return nil
		}
		log.Printf("Popup: zombie handle detected (phase %s), force-destroying", c.phase)
		c.destroyLocked()
	}

	c.phase = PhaseCreating
	win, err := c.backend.Create(bounds, c.onReady)
	if err != nil {
		c.phase = PhaseAbsent
		return fmt.Errorf("popup create: %w", err)
	}
	c.win = win
	if err := win.Show(); err != nil {
		c.win = nil
		c.phase = PhaseAbsent
		_ = win.Destroy()
		return fmt.Errorf("popup show: %w", err)
	}
	if c.opts.FocusOnOpen {
		_ = win.Focus()
	}
	c.phase = PhaseVisible
	if c.haveState {
		_ = win.Render(c.last)
	}
	return nil
}

// CloseIfOpen implements "press hotkey again to dismiss". It returns true only
// when a genuinely visible popup was closed; callers must treat only a true
// return as consuming the hotkey press. A hidden, absent, or zombie window
// never suppresses the next capture attempt.
func (c *Controller) CloseIfOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.win == nil || c.phase != PhaseVisible {
		return false
	}
	if !c.win.IsVisible() {
		log.Printf("Popup: handle claims Visible but window is gone, reconciling")
		c.destroyLocked()
		return false
	}

	// Hide first: some platforms fail to apply the visual disappearance on
	// close alone. Then force-destroy so the identity cannot linger.
	_ = c.win.Hide()
	c.phase = PhaseHidden
	c.destroyLocked()
	return true
}

// Push forwards a full popup state to the window, remembering it so a window
// that reports ready later (or is recreated) gets flushed.
func (c *Controller) Push(st messages.PopupState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = st
	c.haveState = true
	if c.win != nil {
		_ = c.win.Render(st)
	}
}

// Last returns the most recently pushed state.
func (c *Controller) Last() (messages.PopupState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, c.haveState
}

// onReady re-delivers the current state once the window can render.
func (c *Controller) onReady(label string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	log.Printf("Popup: window %q ready, flushing state", label)
	if c.win != nil && c.haveState {
		_ = c.win.Render(c.last)
	}
}

func (c *Controller) destroyLocked() {
	c.phase = PhaseDestroying
	if err := c.win.Destroy(); err != nil {
		log.Printf("Popup: destroy failed (%v), falling back to close", err)
		_ = c.win.Close()
	}
	c.win = nil
	c.phase = PhaseAbsent
}

func (c *Controller) placementLocked() (image.Rectangle, error) {
	cursor, err := c.desktop.CursorPosition()
	if err != nil {
		return image.Rectangle{}, err
	}
	mon, err := c.desktop.MonitorContaining(cursor)
	if err != nil {
		return image.Rectangle{}, err
	}
	return PlaceNear(cursor, mon, image.Pt(c.opts.Width, c.opts.Height), c.opts.Offset), nil
}
