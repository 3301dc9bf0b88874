//go:build windows

package sink

import (
	"strings"
	"unsafe"

	"golang.org/x/sys/windows"
)

// Win32 locator: walks top-level windows for the target's title and
// child windows for the listener controls, and submits commands with
// window messages, the same mechanism the MAXScript listener expects
// from interactive input.

var (
	user32               = windows.NewLazySystemDLL("user32.dll")
	procEnumWindows      = user32.NewProc("EnumWindows")
	procEnumChildWindows = user32.NewProc("EnumChildWindows")
	procGetWindowTextW   = user32.NewProc("GetWindowTextW")
	procGetClassNameW    = user32.NewProc("GetClassNameW")
	procIsWindow         = user32.NewProc("IsWindow")
	procSendMessageW     = user32.NewProc("SendMessageW")
)

const (
	wmSetText = 0x000C
	wmChar    = 0x0102
	vkReturn  = 0x0D
)

// NewLocator returns the Win32 window locator.
func NewLocator() Locator {
	return win32Locator{}
}

type win32Locator struct{}

func (win32Locator) Locate(title string) (Window, error) {
	var found uintptr
	cb := windows.NewCallback(func(hwnd uintptr, _ uintptr) uintptr {
		if strings.Contains(windowText(hwnd), title) {
			found = hwnd
			return 0 // stop enumeration
		}
		return 1
	})
	procEnumWindows.Call(cb, 0)

	if found == 0 {
		return nil, &TargetNotFoundError{Title: title}
	}
	return &win32Window{hwnd: found}, nil
}

type win32Window struct {
	hwnd uintptr
}

func (w *win32Window) FindChild(class string) (Window, error) {
	if alive, _, _ := procIsWindow.Call(w.hwnd); alive == 0 {
		return nil, ErrStale
	}

	var found uintptr
	cb := windows.NewCallback(func(hwnd uintptr, _ uintptr) uintptr {
		if className(hwnd) == class {
			found = hwnd
			return 0
		}
		return 1
	})
	procEnumChildWindows.Call(w.hwnd, cb, 0)

	if found == 0 {
		return nil, ErrNoChild
	}
	return &win32Window{hwnd: found}, nil
}

func (w *win32Window) Exec(command string) error {
	text, err := windows.UTF16PtrFromString(command)
	if err != nil {
		return err
	}
	procSendMessageW.Call(w.hwnd, wmSetText, 0, uintptr(unsafe.Pointer(text)))
	procSendMessageW.Call(w.hwnd, wmChar, vkReturn, 0)
	return nil
}

func windowText(hwnd uintptr) string {
	var buf [512]uint16
	n, _, _ := procGetWindowTextW.Call(hwnd, uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	return windows.UTF16ToString(buf[:n])
}

func className(hwnd uintptr) string {
	var buf [256]uint16
	n, _, _ := procGetClassNameW.Call(hwnd, uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	return windows.UTF16ToString(buf[:n])
}
