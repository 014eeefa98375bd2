//go:build !windows

package popup

import (
	"fmt"
	"image"
)

type stubBackend struct{}

// NewNativeBackend is a stub for platforms without a native popup
// implementation; creation fails and the orchestrator surfaces the error.
func NewNativeBackend() Backend { return stubBackend{} }

func (stubBackend) Create(bounds image.Rectangle, onReady func(label string)) (Window, error) {
	return nil, fmt.Errorf("native popup not implemented for this platform")
}
