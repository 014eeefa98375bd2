package screenshot

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/kbinani/screenshot"
)

// Region is a screen rectangle in physical pixels, virtual-screen coordinates.
type Region struct {
	X      int
	Y      int
	Width  int
	Height int
}

// Bounds returns the region as an image.Rectangle.
func (r Region) Bounds() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// CaptureRegion captures a screen region and returns it PNG-encoded.
func CaptureRegion(region Region) ([]byte, error) {
	if region.Width <= 0 || region.Height <= 0 {
		return nil, fmt.Errorf("invalid region dimensions: width=%d, height=%d", region.Width, region.Height)
	}

	img, err := screenshot.CaptureRect(region.Bounds())
	if err != nil {
		return nil, fmt.Errorf("failed to capture region: %v", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode image as PNG: %v", err)
	}
	return buf.Bytes(), nil
}

// CaptureRegionToFile captures a region into a temp PNG and returns its path.
// The caller owns the file.
func CaptureRegionToFile(region Region) (string, error) {
	data, err := CaptureRegion(region)
	if err != nil {
		return "", err
	}
	path := filepath.Join(os.TempDir(), fmt.Sprintf("erudaite_ocr_%d.png", time.Now().UnixNano()))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write capture: %v", err)
	}
	return path, nil
}

// DisplayBounds returns the bounds of every active display.
func DisplayBounds() ([]image.Rectangle, error) {
	n := screenshot.NumActiveDisplays()
	if n == 0 {
		return nil, fmt.Errorf("no active displays found")
	}
	bounds := make([]image.Rectangle, n)
	for i := 0; i < n; i++ {
		bounds[i] = screenshot.GetDisplayBounds(i)
	}
	return bounds, nil
}

// MonitorContaining returns the bounds of the display containing p, falling
// back to the primary display when the point sits on no monitor.
func MonitorContaining(p image.Point) (image.Rectangle, error) {
	bounds, err := DisplayBounds()
	if err != nil {
		return image.Rectangle{}, err
	}
	return monitorContaining(p, bounds), nil
}

func monitorContaining(p image.Point, displays []image.Rectangle) image.Rectangle {
	for _, b := range displays {
		if p.In(b) {
			return b
		}
	}
	return displays[0]
}
