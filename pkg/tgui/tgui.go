package tgui

import (
	tele "gopkg.in/telebot.v4"
)

// Inline accumulates rows of callback buttons.
type Inline struct {
	rm   *tele.ReplyMarkup
	rows []tele.Row
}

func NewInline() *Inline {
	return &Inline{rm: &tele.ReplyMarkup{}}
}

// Row appends one row. Empty rows are skipped.
func (i *Inline) Row(btn ...tele.Btn) *Inline {
	if len(btn) == 0 {
		return i
	}
	i.rows = append(i.rows, i.rm.Row(btn...))
	return i
}

func (i *Inline) Len() int { return len(i.rows) }

// Markup returns the reply markup, or nil when no row was added.
func (i *Inline) Markup() *tele.ReplyMarkup {
	if len(i.rows) == 0 {
		return nil
	}
	i.rm.Inline(i.rows...)
	return i.rm
}

func Btn(text, data string) tele.Btn {
	return tele.Btn{Text: text, Data: data}
}
