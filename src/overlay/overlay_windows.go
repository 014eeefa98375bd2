//go:build windows

package overlay

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sync"
	"syscall"
	"unsafe"

	"github.com/lxn/win"

	"github.com/ikuradondai/erudaite-desktop/src/messages"
)

// Fullscreen rubber-band selection over the virtual screen. One overlay at a
// time; the dispatch guard upstream guarantees Select is never re-entered.

type windowsSelector struct{}

func newPlatformSelector() Selector { return windowsSelector{} }

type selectionResult struct {
	sel       messages.OCRSelected
	cancelled bool
	err       error
}

var (
	overlayClassOnce sync.Once
	overlayClassErr  error
	overlayClassName *uint16

	overlayMu       sync.Mutex
	overlayHwnd     win.HWND
	overlaySelect   bool
	startX, startY  int32
	curX, curY      int32
	virtualOriginX  int32
	virtualOriginY  int32
	overlayOutcome  selectionResult
	overlayDone     chan struct{}
)

func (windowsSelector) Select(ctx context.Context) (messages.OCRSelected, bool, error) {
	overlayClassOnce.Do(registerOverlayClass)
	if overlayClassErr != nil {
		return messages.OCRSelected{}, false, overlayClassErr
	}

	done := make(chan struct{})
	overlayMu.Lock()
	overlayDone = done
	overlayOutcome = selectionResult{}
	overlaySelect = false
	overlayMu.Unlock()

	go runOverlayWindow()

	select {
	case <-done:
	case <-ctx.Done():
		overlayMu.Lock()
		if overlayHwnd != 0 {
			procPostMessage.Call(uintptr(overlayHwnd), win.WM_CLOSE, 0, 0)
		}
		overlayMu.Unlock()
		<-done
	}

	overlayMu.Lock()
	res := overlayOutcome
	overlayMu.Unlock()
	return res.sel, res.cancelled, res.err
}

func runOverlayWindow() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	vx := win.GetSystemMetrics(win.SM_XVIRTUALSCREEN)
	vy := win.GetSystemMetrics(win.SM_YVIRTUALSCREEN)
	vw := win.GetSystemMetrics(win.SM_CXVIRTUALSCREEN)
	vh := win.GetSystemMetrics(win.SM_CYVIRTUALSCREEN)

	overlayMu.Lock()
	virtualOriginX, virtualOriginY = vx, vy
	overlayMu.Unlock()

	hwnd := win.CreateWindowEx(
		win.WS_EX_TOPMOST|win.WS_EX_TOOLWINDOW,
		overlayClassName, nil,
		win.WS_POPUP|win.WS_VISIBLE,
		vx, vy, vw, vh,
		0, 0, 0, nil,
	)
	if hwnd == 0 {
		finishOverlay(selectionResult{err: fmt.Errorf("overlay window creation failed")})
		return
	}
	win.SetForegroundWindow(hwnd)

	overlayMu.Lock()
	overlayHwnd = hwnd
	overlayMu.Unlock()

	var msg win.MSG
	for win.GetMessage(&msg, 0, 0, 0) > 0 {
		win.TranslateMessage(&msg)
		win.DispatchMessage(&msg)
	}

	overlayMu.Lock()
	overlayHwnd = 0
	overlayMu.Unlock()
}

func registerOverlayClass() {
	overlayClassName, overlayClassErr = syscall.UTF16PtrFromString("ErudaiteOverlay")
	if overlayClassErr != nil {
		return
	}
	var wc win.WNDCLASSEX
	wc.CbSize = uint32(unsafe.Sizeof(wc))
	wc.LpfnWndProc = syscall.NewCallback(overlayWndProc)
	wc.HCursor = win.LoadCursor(0, win.MAKEINTRESOURCE(win.IDC_CROSS))
	wc.HbrBackground = win.HBRUSH(win.GetStockObject(win.BLACK_BRUSH))
	wc.LpszClassName = overlayClassName
	if win.RegisterClassEx(&wc) == 0 {
		overlayClassErr = fmt.Errorf("overlay class registration failed")
	}
}

func overlayWndProc(hwnd win.HWND, msg uint32, wParam, lParam uintptr) uintptr {
	switch msg {
	case win.WM_LBUTTONDOWN:
		overlayMu.Lock()
		overlaySelect = true
		startX = xLParam(lParam)
		startY = yLParam(lParam)
		curX, curY = startX, startY
		overlayMu.Unlock()
		return 0

	case win.WM_MOUSEMOVE:
		overlayMu.Lock()
		if overlaySelect {
			curX = xLParam(lParam)
			curY = yLParam(lParam)
			win.InvalidateRect(hwnd, nil, true)
		}
		overlayMu.Unlock()
		return 0

	case win.WM_LBUTTONUP:
		overlayMu.Lock()
		if !overlaySelect {
			overlayMu.Unlock()
			return 0
		}
		endX := xLParam(lParam)
		endY := yLParam(lParam)
		sel := messages.OCRSelected{
			X:      int(virtualOriginX + min32(startX, endX)),
			Y:      int(virtualOriginY + min32(startY, endY)),
			Width:  int(abs32(endX - startX)),
			Height: int(abs32(endY - startY)),
		}
		overlayMu.Unlock()

		if sel.Width < 3 || sel.Height < 3 {
			log.Printf("Overlay: selection too small (%dx%d), treating as cancel", sel.Width, sel.Height)
			finishOverlay(selectionResult{cancelled: true})
		} else {
			finishOverlay(selectionResult{sel: sel})
		}
		win.DestroyWindow(hwnd)
		return 0

	case win.WM_KEYDOWN:
		if wParam == win.VK_ESCAPE {
			finishOverlay(selectionResult{cancelled: true})
			win.DestroyWindow(hwnd)
		}
		return 0

	case win.WM_PAINT:
		paintRubberBand(hwnd)
		return 0

	case win.WM_CLOSE:
		finishOverlay(selectionResult{cancelled: true})
		win.DestroyWindow(hwnd)
		return 0

	case win.WM_DESTROY:
		// Close without an outcome (e.g. external teardown) counts as cancel.
		finishOverlay(selectionResult{cancelled: true})
		win.PostQuitMessage(0)
		return 0
	}
	return win.DefWindowProc(hwnd, msg, wParam, lParam)
}

var (
	gdi32           = syscall.NewLazyDLL("gdi32.dll")
	procCreatePen   = gdi32.NewProc("CreatePen")
	procRectangle   = gdi32.NewProc("Rectangle")
	user32          = syscall.NewLazyDLL("user32.dll")
	procPostMessage = user32.NewProc("PostMessageW")
)

const psSolid = 0

// Client coordinates arrive packed in lParam as signed 16-bit halves.
func xLParam(lp uintptr) int32 { return int32(int16(win.LOWORD(uint32(lp)))) }
func yLParam(lp uintptr) int32 { return int32(int16(win.HIWORD(uint32(lp)))) }

func paintRubberBand(hwnd win.HWND) {
	var ps win.PAINTSTRUCT
	hdc := win.BeginPaint(hwnd, &ps)
	if hdc != 0 {
		overlayMu.Lock()
		selecting := overlaySelect
		x1, y1, x2, y2 := startX, startY, curX, curY
		overlayMu.Unlock()
		if selecting {
			pen, _, _ := procCreatePen.Call(psSolid, 2, 0x00FFFFFF)
			oldPen := win.SelectObject(hdc, win.HGDIOBJ(pen))
			oldBrush := win.SelectObject(hdc, win.GetStockObject(win.NULL_BRUSH))
			procRectangle.Call(uintptr(hdc),
				uintptr(min32(x1, x2)), uintptr(min32(y1, y2)),
				uintptr(max32(x1, x2)), uintptr(max32(y1, y2)))
			win.SelectObject(hdc, oldBrush)
			win.SelectObject(hdc, oldPen)
			win.DeleteObject(win.HGDIOBJ(pen))
		}
	}
	win.EndPaint(hwnd, &ps)
}

// finishOverlay records the first outcome and signals the waiter exactly once.
func finishOverlay(res selectionResult) {
	overlayMu.Lock()
	defer overlayMu.Unlock()
	if overlayDone == nil {
		return
	}
	overlayOutcome = res
	close(overlayDone)
	overlayDone = nil
}

func min32(a, b int32) int32 {
	if a < b {
		return a
	}
	return b
}

func max32(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
