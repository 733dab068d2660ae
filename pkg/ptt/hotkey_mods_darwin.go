//go:build darwin

package ptt

import "golang.design/x/hotkey"

// hotkeyModifier maps a modifier token onto the Carbon modifier constants.
func hotkeyModifier(tok KeyToken) (hotkey.Modifier, bool) {
	switch tok {
	case KeyCtrl:
		return hotkey.ModCtrl, true
	case KeyShift:
		return hotkey.ModShift, true
	case KeyAlt:
		return hotkey.ModOption, true
	case KeyMeta:
		return hotkey.ModCmd, true
	default:
		return 0, false
	}
}
