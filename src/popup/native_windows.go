//go:build windows

package popup

import (
	"fmt"
	"image"
	"runtime"
	"sync"
	"syscall"
	"unsafe"

	"github.com/ikuradondai/erudaite-desktop/src/messages"
)

// Raw win32 rendering for the result popup. The window lives on its own
// OS-thread message loop; lifecycle calls from the controller cross threads
// via posted messages where win32 requires it.

var (
	user32               = syscall.NewLazyDLL("user32.dll")
	procCreateWindowEx   = user32.NewProc("CreateWindowExW")
	procDefWindowProc    = user32.NewProc("DefWindowProcW")
	procDestroyWindow    = user32.NewProc("DestroyWindow")
	procShowWindow       = user32.NewProc("ShowWindow")
	procSetWindowPos     = user32.NewProc("SetWindowPos")
	procRegisterClassEx  = user32.NewProc("RegisterClassExW")
	procGetMessage       = user32.NewProc("GetMessageW")
	procDispatchMessage  = user32.NewProc("DispatchMessageW")
	procTranslateMessage = user32.NewProc("TranslateMessage")
	procPostQuitMessage  = user32.NewProc("PostQuitMessage")
	procPostMessage      = user32.NewProc("PostMessageW")
	procBeginPaint       = user32.NewProc("BeginPaint")
	procEndPaint         = user32.NewProc("EndPaint")
	procDrawText         = user32.NewProc("DrawTextW")
	procInvalidateRect   = user32.NewProc("InvalidateRect")
	procLoadCursor       = user32.NewProc("LoadCursorW")
	procIsWindow         = user32.NewProc("IsWindow")
	procIsWindowVisible  = user32.NewProc("IsWindowVisible")
	procSetForeground    = user32.NewProc("SetForegroundWindow")
	procGetClientRect    = user32.NewProc("GetClientRect")
)

const (
	wsPopup         = 0x80000000
	wsBorder        = 0x00800000
	wsExNoActivate  = 0x08000000
	wsExToolWindow  = 0x00000080
	wsExTopmost     = 0x00000008
	wmDestroy       = 0x0002
	wmPaint         = 0x000F
	wmClose         = 0x0010
	wmLButtonDown   = 0x0201
	wmUser          = 0x0400
	wmUpdateState   = wmUser + 1
	wmForceDestroy  = wmUser + 2
	swShowNoActive  = 4
	swHide          = 0
	swpNoActivate   = 0x0010
	hwndTopmost     = ^uintptr(0)
	dtWordbreak     = 0x00000010
	dtEditControl   = 0x00002000
	idcArrow        = 32512
	colorWindow     = 5
)

type wndClassEx struct {
	CbSize        uint32
	Style         uint32
	LpfnWndProc   uintptr
	CbClsExtra    int32
	CbWndExtra    int32
	HInstance     syscall.Handle
	HIcon         syscall.Handle
	HCursor       syscall.Handle
	HbrBackground syscall.Handle
	LpszMenuName  *uint16
	LpszClassName *uint16
	HIconSm       syscall.Handle
}

type winMsg struct {
	Hwnd    syscall.Handle
	Message uint32
	WParam  uintptr
	LParam  uintptr
	Time    uint32
	Pt      struct{ X, Y int32 }
}

type winRect struct{ Left, Top, Right, Bottom int32 }

type paintStruct struct {
	Hdc         syscall.Handle
	FErase      int32
	RcPaint     winRect
	FRestore    int32
	FIncUpdate  int32
	RgbReserved [32]byte
}

var (
	classOnce    sync.Once
	classErr     error
	windowsMu    sync.Mutex
	liveWindows  = map[syscall.Handle]*windowsWindow{}
	classNamePtr *uint16
)

type windowsBackend struct{}

// NewNativeBackend returns the win32 popup backend.
func NewNativeBackend() Backend { return windowsBackend{} }

type windowsWindow struct {
	hwnd syscall.Handle

	mu    sync.Mutex
	state messages.PopupState
}

func (windowsBackend) Create(bounds image.Rectangle, onReady func(label string)) (Window, error) {
	classOnce.Do(registerClass)
	if classErr != nil {
		return nil, classErr
	}

	w := &windowsWindow{}
	created := make(chan error, 1)

	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		hwnd, _, err := procCreateWindowEx.Call(
			wsExToolWindow|wsExNoActivate|wsExTopmost,
			uintptr(unsafe.Pointer(classNamePtr)),
			0,
			wsPopup|wsBorder,
			uintptr(bounds.Min.X), uintptr(bounds.Min.Y),
			uintptr(bounds.Dx()), uintptr(bounds.Dy()),
			0, 0, 0, 0,
		)
		if hwnd == 0 {
			created <- fmt.Errorf("CreateWindowEx failed: %v", err)
			return
		}
		w.hwnd = syscall.Handle(hwnd)
		windowsMu.Lock()
		liveWindows[w.hwnd] = w
		windowsMu.Unlock()
		created <- nil

		if onReady != nil {
			onReady("popup")
		}

		var msg winMsg
		for {
			ret, _, _ := procGetMessage.Call(uintptr(unsafe.Pointer(&msg)), 0, 0, 0)
			if int32(ret) <= 0 {
				break
			}
			procTranslateMessage.Call(uintptr(unsafe.Pointer(&msg)))
			procDispatchMessage.Call(uintptr(unsafe.Pointer(&msg)))
		}

		windowsMu.Lock()
		delete(liveWindows, w.hwnd)
		windowsMu.Unlock()
	}()

	if err := <-created; err != nil {
		return nil, err
	}
	return w, nil
}

func registerClass() {
	classNamePtr, classErr = syscall.UTF16PtrFromString("ErudaitePopup")
	if classErr != nil {
		return
	}
	cursor, _, _ := procLoadCursor.Call(0, uintptr(idcArrow))
	wc := wndClassEx{
		Style:         0x0002 | 0x0001, // CS_HREDRAW | CS_VREDRAW
		LpfnWndProc:   syscall.NewCallback(popupWndProc),
		HCursor:       syscall.Handle(cursor),
		HbrBackground: syscall.Handle(colorWindow + 1),
		LpszClassName: classNamePtr,
	}
	wc.CbSize = uint32(unsafe.Sizeof(wc))
	if ret, _, err := procRegisterClassEx.Call(uintptr(unsafe.Pointer(&wc))); ret == 0 {
		classErr = fmt.Errorf("RegisterClassEx failed: %v", err)
	}
}

func popupWndProc(hwnd syscall.Handle, msg uint32, wParam, lParam uintptr) uintptr {
	switch msg {
	case wmPaint:
		paintPopup(hwnd)
		return 0
	case wmUpdateState:
		procInvalidateRect.Call(uintptr(hwnd), 0, 1)
		return 0
	case wmLButtonDown:
		// Clicking the popup hides it; the controller reconciles the handle
		// on its next access.
		procShowWindow.Call(uintptr(hwnd), swHide)
		return 0
	case wmForceDestroy:
		procDestroyWindow.Call(uintptr(hwnd))
		return 0
	case wmDestroy:
		procPostQuitMessage.Call(0)
		return 0
	}
	ret, _, _ := procDefWindowProc.Call(uintptr(hwnd), uintptr(msg), wParam, lParam)
	return ret
}

func paintPopup(hwnd syscall.Handle) {
	windowsMu.Lock()
	w := liveWindows[hwnd]
	windowsMu.Unlock()
	if w == nil {
		return
	}
	w.mu.Lock()
	text := renderText(w.state)
	w.mu.Unlock()

	var ps paintStruct
	hdc, _, _ := procBeginPaint.Call(uintptr(hwnd), uintptr(unsafe.Pointer(&ps)))
	if hdc != 0 {
		var rc winRect
		procGetClientRect.Call(uintptr(hwnd), uintptr(unsafe.Pointer(&rc)))
		rc.Left += 8
		rc.Top += 8
		rc.Right -= 8
		rc.Bottom -= 8
		if utf16Text, err := syscall.UTF16FromString(text); err == nil {
			procDrawText.Call(hdc, uintptr(unsafe.Pointer(&utf16Text[0])), uintptr(len(utf16Text)-1),
				uintptr(unsafe.Pointer(&rc)), dtWordbreak|dtEditControl)
		}
	}
	procEndPaint.Call(uintptr(hwnd), uintptr(unsafe.Pointer(&ps)))
}

func renderText(st messages.PopupState) string {
	text := st.Status
	if st.Source != "" {
		text += "\n\n" + st.Source
	}
	if st.Translation != "" {
		text += "\n\n" + st.Translation
	}
	if st.Action != "" {
		text += "\n\n[" + st.Action + "]"
	}
	return text
}

func (w *windowsWindow) Show() error {
	procShowWindow.Call(uintptr(w.hwnd), swShowNoActive)
	procSetWindowPos.Call(uintptr(w.hwnd), hwndTopmost, 0, 0, 0, 0, 0x0002|0x0001|swpNoActivate)
	return nil
}

func (w *windowsWindow) Hide() error {
	procShowWindow.Call(uintptr(w.hwnd), swHide)
	return nil
}

func (w *windowsWindow) Close() error {
	procPostMessage.Call(uintptr(w.hwnd), wmClose, 0, 0)
	return nil
}

func (w *windowsWindow) Destroy() error {
	if ret, _, _ := procIsWindow.Call(uintptr(w.hwnd)); ret == 0 {
		return nil
	}
	// DestroyWindow must run on the creating thread.
	if ret, _, err := procPostMessage.Call(uintptr(w.hwnd), wmForceDestroy, 0, 0); ret == 0 {
		return fmt.Errorf("post destroy failed: %v", err)
	}
	return nil
}

func (w *windowsWindow) IsVisible() bool {
	if ret, _, _ := procIsWindow.Call(uintptr(w.hwnd)); ret == 0 {
		return false
	}
	ret, _, _ := procIsWindowVisible.Call(uintptr(w.hwnd))
	return ret != 0
}

func (w *windowsWindow) SetBounds(b image.Rectangle) error {
	procSetWindowPos.Call(uintptr(w.hwnd), hwndTopmost,
		uintptr(b.Min.X), uintptr(b.Min.Y), uintptr(b.Dx()), uintptr(b.Dy()), swpNoActivate)
	return nil
}

func (w *windowsWindow) Focus() error {
	procSetForeground.Call(uintptr(w.hwnd))
	return nil
}

func (w *windowsWindow) Render(st messages.PopupState) error {
	w.mu.Lock()
	w.state = st
	w.mu.Unlock()
	procPostMessage.Call(uintptr(w.hwnd), wmUpdateState, 0, 0)
	return nil
}
