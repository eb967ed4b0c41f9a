package router

import (
	"strings"

	"github.com/google/uuid"

	"teleads/internal/control"
	kit "teleads/internal/transport"
	logx "teleads/pkg/logx"
	"teleads/pkg/tgui"
)

// callbackScope prefixes every button this bot renders.
const callbackScope = "ui"

type Request struct {
	Update kit.Update
	ChatID int64
	FromID int64
	// CallbackID is set for button presses and answered after handling.
	CallbackID string
	Event      control.Event
	ReqID      string
	Logger     logx.Logger
}

// commands maps slash commands onto conversation actions.
var commands = map[string]control.Action{
	"start":  control.ActionStart,
	"menu":   control.ActionStart,
	"cancel": control.ActionCancel,
	"status": control.ActionStatus,
	"help":   control.ActionHelp,
	"list":   control.ActionList,
	"stop":   control.ActionStopRepeat,
}

// BotCommands is the list published to the client's command menu.
var BotCommands = []kit.BotCommand{
	{Command: "start", Description: "open the main menu"},
	{Command: "status", Description: "accounts, targets and the running job"},
	{Command: "list", Description: "show the target list"},
	{Command: "cancel", Description: "abort the current step"},
	{Command: "stop", Description: "stop send-and-repeat"},
	{Command: "help", Description: "how to use this bot"},
}

// toEvent translates a transport update. ok is false for updates the
// conversation has no use for (malformed or foreign callback data).
func toEvent(up kit.Update) (control.Event, bool) {
	switch {
	case up.Callback != nil:
		scope, action, ok := tgui.ParseData(up.Callback.Data)
		if !ok || scope != callbackScope {
			return control.Event{}, false
		}
		a, ok := control.ParseAction(action)
		if !ok {
			return control.Event{}, false
		}
		return control.Event{ChatID: up.Callback.ChatID, Action: a}, true
	case up.Message != nil:
		text := strings.TrimSpace(up.Message.Text)
		if text == "" {
			return control.Event{}, false
		}
		if a, ok := commandAction(text); ok {
			return control.Event{ChatID: up.Message.ChatID, Action: a}, true
		}
		return control.Event{ChatID: up.Message.ChatID, Action: control.ActionText, Text: text}, true
	}
	return control.Event{}, false
}

// commandAction recognizes "/cmd" and "/cmd@botname". Unknown commands are
// plain text so a pasted list starting with a slash still reaches the
// conversation.
func commandAction(text string) (control.Action, bool) {
	if !strings.HasPrefix(text, "/") {
		return control.ActionText, false
	}
	word, _, _ := strings.Cut(text[1:], " ")
	word, _, _ = strings.Cut(word, "@")
	a, ok := commands[strings.ToLower(word)]
	return a, ok
}

func newReqID() string {
	return uuid.NewString()[:8]
}

func actionName(a control.Action) string {
	if a == control.ActionText {
		return "text"
	}
	return string(a)
}
