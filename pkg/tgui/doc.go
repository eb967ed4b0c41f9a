// Package tgui holds the small Telegram UI vocabulary used by the control
// bot: HTML-safe text (H), inline keyboards and the "scope:action"
// callback data format.
package tgui
