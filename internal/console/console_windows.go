//go:build windows

package console

import (
	"fmt"

	"golang.org/x/sys/windows"
)

const swHide = 0

var (
	kernel32         = windows.NewLazySystemDLL("kernel32.dll")
	user32           = windows.NewLazySystemDLL("user32.dll")
	getConsoleWindow = kernel32.NewProc("GetConsoleWindow")
	showWindow       = user32.NewProc("ShowWindow")
)

func hide() (bool, error) {
	if err := getConsoleWindow.Find(); err != nil {
		return false, fmt.Errorf("locate GetConsoleWindow: %w", err)
	}
	if err := showWindow.Find(); err != nil {
		return false, fmt.Errorf("locate ShowWindow: %w", err)
	}
	hwnd, _, _ := getConsoleWindow.Call()
	if hwnd == 0 {
		return false, nil
	}
	showWindow.Call(hwnd, swHide)
	return true, nil
}
