//go:build windows

package ptt

import "golang.design/x/hotkey"

// hotkeyModifier maps a modifier token onto the RegisterHotKey modifier flags.
func hotkeyModifier(tok KeyToken) (hotkey.Modifier, bool) {
	switch tok {
	case KeyCtrl:
		return hotkey.ModCtrl, true
	case KeyShift:
		return hotkey.ModShift, true
	case KeyAlt:
		return hotkey.ModAlt, true
	case KeyMeta:
		return hotkey.ModWin, true
	default:
		return 0, false
	}
}
