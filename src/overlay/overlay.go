package overlay

import (
	"context"

	"github.com/ikuradondai/erudaite-desktop/src/messages"
)

// Selector owns the OCR selection overlay: a fullscreen window in which the
// user drags out a rectangle. Its handle is independent of the result popup's.
// Select blocks until the user confirms, cancels, or ctx ends; it must only be
// invoked from one flow at a time (the dispatch guard enforces that).
type Selector interface {
	Select(ctx context.Context) (sel messages.OCRSelected, cancelled bool, err error)
}

// NewSelector returns the platform implementation.
func NewSelector() Selector { return newPlatformSelector() }
