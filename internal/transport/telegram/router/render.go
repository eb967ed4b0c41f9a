package router

import (
	tele "gopkg.in/telebot.v4"

	"teleads/internal/control"
	"teleads/pkg/tgui"
)

// markup renders a conversation menu as inline buttons. Buttons whose
// callback data would not fit are dropped.
func markup(menu control.Menu) *tele.ReplyMarkup {
	in := tgui.NewInline()
	for _, row := range menu {
		btns := make([]tele.Btn, 0, len(row))
		for _, b := range row {
			data, err := tgui.Data(callbackScope, string(b.Action))
			if err != nil {
				continue
			}
			btns = append(btns, tgui.Btn(b.Label, data))
		}
		in.Row(btns...)
	}
	return in.Markup()
}
