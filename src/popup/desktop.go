package popup

import (
	"image"

	"github.com/go-vgo/robotgo"

	"github.com/ikuradondai/erudaite-desktop/src/screenshot"
)

// nativeDesktop answers geometry questions from the real desktop.
type nativeDesktop struct{}

// NewDesktop returns the platform desktop geometry provider.
func NewDesktop() Desktop { return nativeDesktop{} }

func (nativeDesktop) CursorPosition() (image.Point, error) {
	x, y := robotgo.Location()
	return image.Pt(x, y), nil
}

func (nativeDesktop) MonitorContaining(p image.Point) (image.Rectangle, error) {
	return screenshot.MonitorContaining(p)
}
