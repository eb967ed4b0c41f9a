package tgui

import (
	"errors"
	"fmt"
	"strings"
)

// MaxCallbackDataLen is Telegram's callback_data limit in bytes.
const MaxCallbackDataLen = 64

var ErrCallbackDataTooLong = errors.New("tgui: callback_data too long")

// Data formats callback data as "scope:action".
func Data(scope, action string) (string, error) {
	s := strings.TrimSpace(scope) + ":" + strings.TrimSpace(action)
	if len(s) > MaxCallbackDataLen {
		return "", fmt.Errorf("%w: %d bytes", ErrCallbackDataTooLong, len(s))
	}
	return s, nil
}

// ParseData splits callback data produced by Data. Anything after the
// first colon is the action.
func ParseData(data string) (scope, action string, ok bool) {
	scope, action, ok = strings.Cut(strings.TrimSpace(data), ":")
	if !ok || scope == "" {
		return "", "", false
	}
	return scope, action, true
}
