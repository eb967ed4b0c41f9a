// Package control is the conversation that drives forwarding from the bot.
//
// It is transport-agnostic: the router turns bot updates into Events and
// renders Replies. Only the configured control chat is served; every other
// chat is ignored without a reply.
package control

import (
	"teleads/internal/forward"
	"teleads/pkg/tgui"
)

type State int

const (
	StateIdle State = iota
	StateAwaitingForwardMethodChoice
	StateAwaitingCustomMessage
	StateAwaitingMessageLink
	StateAwaitingMarketplaceList
	StateConfirmForward
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingForwardMethodChoice:
		return "awaiting-method"
	case StateAwaitingCustomMessage:
		return "awaiting-text"
	case StateAwaitingMessageLink:
		return "awaiting-link"
	case StateAwaitingMarketplaceList:
		return "awaiting-marketplace"
	case StateConfirmForward:
		return "confirm"
	default:
		return "unknown"
	}
}

// Action is a menu choice or command. Free text has ActionText.
type Action string

const (
	ActionText          Action = ""
	ActionStart         Action = "start"
	ActionForward       Action = "forward"
	ActionMarketplace   Action = "marketplace"
	ActionJoinAll       Action = "join_all"
	ActionList          Action = "list"
	ActionStatus        Action = "status"
	ActionHelp          Action = "help"
	ActionCustom        Action = "custom"
	ActionLink          Action = "link"
	ActionBack          Action = "back"
	ActionConfirm       Action = "confirm"
	ActionConfirmRepeat Action = "confirm_repeat"
	ActionCancel        Action = "cancel"
	ActionStopRepeat    Action = "stop_repeat"
)

// Actions lists every menu action, used by the router to validate callbacks.
var Actions = []Action{
	ActionStart, ActionForward, ActionMarketplace, ActionJoinAll, ActionList,
	ActionStatus, ActionHelp, ActionCustom, ActionLink, ActionBack,
	ActionConfirm, ActionConfirmRepeat, ActionCancel, ActionStopRepeat,
}

func ParseAction(s string) (Action, bool) {
	for _, a := range Actions {
		if string(a) == s {
			return a, true
		}
	}
	return ActionText, false
}

type Event struct {
	ChatID int64
	Action Action
	Text   string
}

type Button struct {
	Label  string
	Action Action
}

type Menu [][]Button

// Reply is rendered by the router. Text is HTML.
type Reply struct {
	Text tgui.H
	Menu Menu
}

// Session is the per-chat conversation record.
type Session struct {
	ChatID  int64
	State   State
	Payload forward.Payload
}

func (s *Session) reset() {
	s.State = StateIdle
	s.Payload = forward.Payload{}
}
