package control

import (
	"fmt"
	"strconv"
	"strings"

	"teleads/internal/account"
	"teleads/internal/forward"
	"teleads/internal/target"
	"teleads/pkg/tgui"
)

const listLimit = 50

func itoa(n int) string { return strconv.Itoa(n) }

func mainMenu() Menu {
	return Menu{
		{{Label: "📤 Forward Message", Action: ActionForward}},
		{{Label: "🛒 Add Marketplace", Action: ActionMarketplace}, {Label: "👥 Join All Groups", Action: ActionJoinAll}},
		{{Label: "📋 Targets", Action: ActionList}, {Label: "📊 Status", Action: ActionStatus}},
		{{Label: "❓ Help", Action: ActionHelp}},
	}
}

func backMenu() Menu {
	return Menu{{{Label: "⬅ Back", Action: ActionBack}}}
}

func methodPrompt() Reply {
	return Reply{
		Text: "How should the message be sent?",
		Menu: Menu{
			{{Label: "✍ Custom text", Action: ActionCustom}, {Label: "🔗 Message link", Action: ActionLink}},
			{{Label: "⬅ Back", Action: ActionBack}},
		},
	}
}

func (c *Conversation) welcome() Reply {
	active := 0
	statuses := c.deps.Accounts.Statuses()
	for _, st := range statuses {
		if st.State == account.StateAuthenticated {
			active++
		}
	}
	text := tgui.JoinH("\n",
		tgui.B("Forwarding control"),
		tgui.Esc(fmt.Sprintf("Accounts: %d active of %d", active, len(statuses))),
		tgui.Esc(fmt.Sprintf("Targets: %d", c.deps.Targets.Len())),
	)
	return Reply{Text: text, Menu: mainMenu()}
}

func (c *Conversation) confirmPrompt(p forward.Payload) Reply {
	row := []Button{{Label: "✅ Send now", Action: ActionConfirm}}
	if every := c.loopSchedule(); every != "" && c.deps.Repeater != nil {
		row = append(row, Button{Label: "🔁 Send and repeat (" + every + ")", Action: ActionConfirmRepeat})
	}
	text := tgui.JoinH("\n",
		tgui.B("Confirm forward"),
		tgui.Esc("Payload: "+p.String()),
		tgui.Esc(fmt.Sprintf("Targets: %d", c.deps.Targets.Len())),
	)
	return Reply{Text: text, Menu: Menu{row, {{Label: "✖ Cancel", Action: ActionCancel}}}}
}

func helpText() tgui.H {
	return tgui.JoinH("\n",
		tgui.B("How it works"),
		tgui.Esc("Forward Message: send a custom text or an existing message (by link) to every target."),
		tgui.Esc("Add Marketplace: paste groups (t.me links, @handles, invite links), one per line. New ones are joined automatically."),
		tgui.Esc("Join All Groups: make sure every account is in every target."),
		tgui.Esc("/cancel resets the conversation at any point."),
	)
}

func (c *Conversation) statusText() tgui.H {
	cfg := c.deps.Forwarder.Config()
	lines := []tgui.H{tgui.B("Accounts")}
	for _, st := range c.deps.Accounts.Statuses() {
		name := st.ID
		if st.Display != "" {
			name += " (" + st.Display + ")"
		}
		line := "• " + name + ": " + st.State.String()
		switch st.State {
		case account.StateRateLimited:
			line += " until " + st.Until.Format("15:04:05")
		case account.StateDisabled:
			if st.Reason != "" {
				line += " (" + st.Reason + ")"
			}
		}
		lines = append(lines, tgui.Esc(line))
	}
	lines = append(lines,
		tgui.Esc(fmt.Sprintf("Targets: %d", c.deps.Targets.Len())),
		tgui.Esc("Send interval: "+cfg.SendInterval.String()),
	)
	if every := c.loopSchedule(); every != "" {
		lines = append(lines, tgui.Esc("Repeat schedule: "+every))
	}
	if p, ok := c.deps.Forwarder.Current(); ok {
		lines = append(lines, tgui.Esc("Running: "+p.String()))
	} else {
		lines = append(lines, tgui.Esc("No job running"))
	}
	if c.deps.Repeater != nil {
		if spec, ok := c.deps.Repeater.Active(repeatName); ok {
			lines = append(lines, tgui.Esc("Repeat active ("+spec+")"))
		}
	}
	return tgui.JoinH("\n", lines...)
}

func listText(ts []target.Target) tgui.H {
	if len(ts) == 0 {
		return "No targets."
	}
	lines := []tgui.H{tgui.B(fmt.Sprintf("Targets (%d)", len(ts)))}
	for i, t := range ts {
		if i == listLimit {
			lines = append(lines, tgui.I(fmt.Sprintf("…and %d more", len(ts)-listLimit)))
			break
		}
		lines = append(lines, tgui.Esc(fmt.Sprintf("%d. %s (%s, %s)", i+1, t.String(), t.Kind, t.Membership)))
	}
	return tgui.JoinH("\n", lines...)
}

func progressText(p forward.Progress) tgui.H {
	return tgui.Esc("Progress " + p.String())
}

func summaryText(job *forward.Job) tgui.H {
	lines := []tgui.H{
		tgui.B("Forward finished"),
		tgui.Esc(job.Summary()),
	}
	var failed []string
	for _, o := range job.Failures() {
		failed = append(failed, fmt.Sprintf("%s %s: %s", o.Target.String(), o.Kind, o.Reason))
	}
	if len(failed) > 0 {
		lines = append(lines, tgui.Pre(tgui.TruncRunes(strings.Join(failed, "\n"), 3000)))
	}
	return tgui.JoinH("\n", lines...)
}

func joinText(r forward.JoinReport) tgui.H {
	return tgui.JoinH("\n",
		tgui.B("Join finished"),
		tgui.Esc(fmt.Sprintf("joined %d, already %d, skipped %d, failed %d", r.Joined, r.Already, r.Skipped, r.Failed)),
	)
}
