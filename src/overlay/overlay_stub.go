//go:build !windows

package overlay

import (
	"context"
	"fmt"

	"github.com/ikuradondai/erudaite-desktop/src/messages"
)

type stubSelector struct{}

func newPlatformSelector() Selector { return stubSelector{} }

func (stubSelector) Select(ctx context.Context) (messages.OCRSelected, bool, error) {
	return messages.OCRSelected{}, false, fmt.Errorf("region selection not implemented for this platform")
}
