package tray

import (
	_ "embed"
)

// Tray icon as a 16x16 32-bit ICO; icon.svg is the editable source it was
// rendered from.
//
//go:embed icon.ico
var iconICO []byte

func getIcon() []byte { return iconICO }
