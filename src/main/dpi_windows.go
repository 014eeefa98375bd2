//go:build windows

package main

import (
	"log"
	"syscall"
)

// enableDPIAwareness sets per-monitor DPI awareness so popup and overlay
// coordinates line up with what the cursor APIs report on scaled displays.
func enableDPIAwareness() {
	shcore := syscall.NewLazyDLL("Shcore.dll")
	setProcessDpiAwareness := shcore.NewProc("SetProcessDpiAwareness")
	const processPerMonitorDPIAware = 2
	if err := setProcessDpiAwareness.Find(); err == nil {
		ret, _, _ := setProcessDpiAwareness.Call(uintptr(processPerMonitorDPIAware))
		if ret != 0 {
			log.Printf("DPI: SetProcessDpiAwareness failed, code %d", ret)
		}
		return
	}

	user32 := syscall.NewLazyDLL("user32.dll")
	setProcessDPIAware := user32.NewProc("SetProcessDPIAware")
	if err := setProcessDPIAware.Find(); err == nil {
		if ret, _, _ := setProcessDPIAware.Call(); ret == 0 {
			log.Printf("DPI: SetProcessDPIAware fallback failed")
		}
	}
}
