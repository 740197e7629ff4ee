// Package tgui holds small helpers for Telegram HTML messages and inline
// callback data.
package tgui

import (
	"errors"
	"html"
	"strings"
)

// Esc escapes text for Telegram HTML parse mode.
func Esc(s string) string { return html.EscapeString(s) }

func wrap(tag, inner string) string { return "<" + tag + ">" + inner + "</" + tag + ">" }

func B(s string) string    { return wrap("b", Esc(s)) }
func Code(s string) string { return wrap("code", Esc(s)) }

// Pre renders a preformatted block. Keep it short: a chunk split inside a
// tag is rejected by Telegram.
func Pre(s string) string { return wrap("pre", Esc(s)) }

// MaxCallbackDataLen is Telegram's callback_data limit in bytes.
const MaxCallbackDataLen = 64

var ErrCallbackDataTooLong = errors.New("tgui: callback_data too long")

// Data formats callback data as "prefix:action[:payload]".
func Data(prefix, action, payload string) string {
	s := strings.TrimSpace(prefix) + ":" + strings.TrimSpace(action)
	if payload != "" {
		s += ":" + payload
	}
	return s
}

// CheckData reports data that Telegram would reject.
func CheckData(data string) error {
	if len(data) > MaxCallbackDataLen {
		return ErrCallbackDataTooLong
	}
	return nil
}
