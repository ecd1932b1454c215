package app

import (
	"context"
	"fmt"
	"strings"

	"gatebot/internal/moderation"
	kit "gatebot/internal/transport"
	"gatebot/pkg/logx"
	"gatebot/pkg/tgui"
)

const helpText = `Commands:
/broadcast - compose a message for all subscribers
/skip - skip the current broadcast step
/send - deliver the finished broadcast
/cancel - discard the draft
/auto_approve on|off - toggle automatic join approval
/pending - list join requests awaiting review
/help - this text`

// route is the single entry point for every inbound update.
func (a *App) route(ctx context.Context, u *kit.Update) error {
	switch u.Kind {
	case kit.UpdateJoinRequest:
		a.coordinator.HandleJoinRequest(ctx, u.JoinRequest)
		return nil
	case kit.UpdateCallback:
		ns, _, _ := tgui.SplitData(u.Callback.Data)
		if ns == moderation.CallbackNS {
			a.coordinator.ResolveDecision(ctx, u.Callback)
		}
		return nil
	case kit.UpdateMessage:
		return a.handleMessage(ctx, u.Message)
	}
	return nil
}

func (a *App) handleMessage(ctx context.Context, m *kit.Message) error {
	if cmd, arg, ok := parseCommand(m.Text, a.adapter.Username()); ok && m.Content == kit.ContentText {
		return a.handleCommand(ctx, m, cmd, arg)
	}

	// Plain admin messages feed the broadcast wizard while a draft is open.
	if a.coordinator.IsAdmin(m.FromID) && a.composer.Active(m.FromID) {
		a.composer.HandleMessage(ctx, m.FromID, m)
	}
	return nil
}

// parseCommand splits "/cmd@botname arg..." into its parts. Commands
// addressed to a different bot are not ours.
func parseCommand(text, botName string) (cmd, arg string, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	cmd, arg, _ = strings.Cut(text, " ")
	arg = strings.TrimSpace(arg)
	if base, mention, found := strings.Cut(cmd, "@"); found {
		if botName != "" && !strings.EqualFold(mention, botName) {
			return "", "", false
		}
		cmd = base
	}
	return strings.ToLower(cmd), arg, true
}

func (a *App) handleCommand(ctx context.Context, m *kit.Message, cmd, arg string) error {
	if cmd == "/start" {
		return a.handleStart(ctx, m, arg)
	}

	// Everything below is admin-only; strangers get silence.
	if !a.coordinator.IsAdmin(m.FromID) {
		return nil
	}

	switch cmd {
	case "/broadcast":
		a.composer.Start(ctx, m.FromID)
	case "/skip":
		a.composer.Skip(ctx, m.FromID)
	case "/send":
		a.composer.Send(ctx, m.FromID)
	case "/cancel":
		a.composer.Cancel(ctx, m.FromID)
	case "/auto_approve":
		return a.handleAutoApprove(ctx, m.FromID, arg)
	case "/pending":
		return a.handlePending(ctx, m.FromID)
	case "/help":
		a.replyTo(ctx, m.FromID, helpText)
	}
	return nil
}

func (a *App) handleStart(ctx context.Context, m *kit.Message, arg string) error {
	if arg != "" && a.welcome.MatchesActivation(arg) {
		a.log.Info("welcome activation", logx.Int64("user_id", m.FromID))
		a.welcome.HandleActivation(ctx, m.FromID)
		return nil
	}
	if a.coordinator.IsAdmin(m.FromID) {
		a.replyTo(ctx, m.FromID, helpText)
		return nil
	}
	a.replyTo(ctx, m.FromID, "Hi! I manage join requests for this channel.")
	return nil
}

func (a *App) handleAutoApprove(ctx context.Context, adminID int64, arg string) error {
	switch strings.ToLower(arg) {
	case "on":
		if err := a.coordinator.SetAutoApprove(ctx, true); err != nil {
			return err
		}
		a.replyTo(ctx, adminID, "Auto-approve is now ON.")
	case "off":
		if err := a.coordinator.SetAutoApprove(ctx, false); err != nil {
			return err
		}
		a.replyTo(ctx, adminID, "Auto-approve is now OFF. New requests wait for review.")
	default:
		enabled, err := a.coordinator.AutoApproveEnabled(ctx)
		if err != nil {
			return err
		}
		state := "OFF"
		if enabled {
			state = "ON"
		}
		a.replyTo(ctx, adminID, "Auto-approve is "+state+". Use /auto_approve on|off to change it.")
	}
	return nil
}

func (a *App) handlePending(ctx context.Context, adminID int64) error {
	pending, err := a.coordinator.PendingRequests(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		a.replyTo(ctx, adminID, "No join requests waiting.")
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d join request(s) waiting:\n", len(pending))
	for _, r := range pending {
		fmt.Fprintf(&b, "\n#%d %s", r.ID, tgui.TruncRunes(r.FullName, 48))
		if r.Username != "" {
			fmt.Fprintf(&b, " (@%s)", r.Username)
		}
		fmt.Fprintf(&b, " for %s", r.ChatTitle)
	}
	a.replyTo(ctx, adminID, b.String())
	return nil
}

func (a *App) replyTo(ctx context.Context, userID int64, text string) {
	if _, err := a.adapter.SendText(ctx, kit.UserTarget(userID), text, nil); err != nil {
		a.log.Warn("reply failed", logx.Int64("chat_id", userID), logx.Err(err))
	}
}
