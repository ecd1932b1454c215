// Package moderation implements the join-request lifecycle: intake,
// auto-approval, admin review via inline buttons, and the welcome message
// sent to requesters.
package moderation

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"gatebot/internal/storage"
	kit "gatebot/internal/transport"
	"gatebot/pkg/logx"
	"gatebot/pkg/tgui"
)

// CallbackNS is the namespace of decision-control callback data:
// "joinreq:<approve|reject>:<request_id>:<user_id>:<chat_id>".
const CallbackNS = "joinreq"

const (
	actionApprove = "approve"
	actionReject  = "reject"
)

// Greeter triggers the post-approval welcome sequence.
type Greeter interface {
	SendFirstWelcome(ctx context.Context, userID int64) error
}

type Config struct {
	// DefaultWelcome is the fallback template when the settings store has
	// no welcome_message key.
	DefaultWelcome string
	// ApproveDelay is the pause between a manual approval and the welcome
	// sequence.
	ApproveDelay time.Duration
}

// Coordinator owns the join-request lifecycle: intake, auto-approval,
// admin review, and decision callbacks.
type Coordinator struct {
	cfg     Config
	store   storage.Store
	adapter kit.Adapter
	greeter Greeter
	log     logx.Logger

	mu     sync.RWMutex
	admins []int64
}

func New(cfg Config, store storage.Store, adapter kit.Adapter, greeter Greeter, admins []int64, log logx.Logger) *Coordinator {
	if cfg.DefaultWelcome == "" {
		cfg.DefaultWelcome = DefaultWelcomeTemplate
	}
	if cfg.ApproveDelay <= 0 {
		cfg.ApproveDelay = time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Coordinator{
		cfg:     cfg,
		store:   store,
		adapter: adapter,
		greeter: greeter,
		admins:  append([]int64(nil), admins...),
		log:     log,
	}
}

// SetAdmins replaces the administrator allow-list (config hot reload).
func (c *Coordinator) SetAdmins(admins []int64) {
	cp := append([]int64(nil), admins...)
	c.mu.Lock()
	c.admins = cp
	c.mu.Unlock()
}

func (c *Coordinator) IsAdmin(userID int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, id := range c.admins {
		if id == userID {
			return true
		}
	}
	return false
}

func (c *Coordinator) adminsSnapshot() []int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]int64(nil), c.admins...)
}

// AutoApproveEnabled reads the auto_approve flag. An absent key means
// disabled: new requests go to manual review until an admin opts in.
func (c *Coordinator) AutoApproveEnabled(ctx context.Context) (bool, error) {
	v, ok, err := c.store.GetSetting(ctx, SettingAutoApprove)
	if err != nil {
		return false, err
	}
	return ok && v == "true", nil
}

func (c *Coordinator) SetAutoApprove(ctx context.Context, enabled bool) error {
	v := "false"
	if enabled {
		v = "true"
	}
	return c.store.SetSetting(ctx, SettingAutoApprove, v)
}

// PendingRequests lists unresolved requests, oldest first.
func (c *Coordinator) PendingRequests(ctx context.Context) ([]storage.JoinRequest, error) {
	return c.store.ListPendingJoinRequests(ctx)
}

// HandleJoinRequest processes one inbound join-request event.
func (c *Coordinator) HandleJoinRequest(ctx context.Context, req *kit.JoinRequest) {
	log := c.log.With(
		logx.Int64("user_id", req.UserID),
		logx.Int64("chat_id", req.ChatID),
	)

	auto, err := c.AutoApproveEnabled(ctx)
	if err != nil {
		log.Error("read auto_approve flag", logx.Err(err))
		return
	}

	if auto {
		c.autoApprove(ctx, req, log)
		return
	}
	c.enqueueForReview(ctx, req, log)
}

// autoApprove: transport first; a transport failure drops the event with no
// ledger write. The welcome sequence is best-effort after the approval.
func (c *Coordinator) autoApprove(ctx context.Context, req *kit.JoinRequest, log logx.Logger) {
	if err := c.adapter.ApproveJoinRequest(ctx, req.ChatID, req.UserID); err != nil {
		log.Warn("auto-approve transport call failed; request dropped", logx.Err(err))
		return
	}

	if err := c.store.AddSubscriber(ctx, req.UserID); err != nil {
		log.Error("add subscriber", logx.Err(err))
	}
	if _, err := c.insertRequest(ctx, req); err != nil {
		log.Error("record auto-approved request", logx.Err(err))
	} else if err := c.store.MarkAutoApproved(ctx, req.UserID, req.ChatID); err != nil {
		log.Error("mark auto-approved", logx.Err(err))
	}

	log.Info("join request auto-approved", logx.String("user", req.FullName))

	if c.greeter != nil {
		if err := c.greeter.SendFirstWelcome(ctx, req.UserID); err != nil {
			// The approval stands regardless.
			log.Warn("welcome sequence failed after auto-approval", logx.Err(err))
		}
	}

	c.notifyAdmins(ctx, adminSummary(req, 0)+"\n\nAuto-approved.", nil, log)
}

func (c *Coordinator) enqueueForReview(ctx context.Context, req *kit.JoinRequest, log logx.Logger) {
	id, err := c.insertRequest(ctx, req)
	if err != nil {
		log.Error("record join request", logx.Err(err))
		return
	}
	log = log.With(logx.Int64("request_id", id))
	log.Info("join request pending review", logx.String("user", req.FullName))

	// Greeting the requester is independent of the approval decision.
	if err := c.sendRequesterWelcome(ctx, req); err != nil {
		log.Warn("welcome message to requester failed", logx.Err(err))
	}

	payload := tgui.Ints(id, req.UserID, req.ChatID)
	kb := tgui.NewInline().
		Row(tgui.Btn("Approve request", tgui.Data(CallbackNS, actionApprove, payload...))).
		Row(tgui.Btn("Reject", tgui.Data(CallbackNS, actionReject, payload...)))

	c.notifyAdmins(ctx, adminSummary(req, id), kb.Markup(), log)
}

func (c *Coordinator) insertRequest(ctx context.Context, req *kit.JoinRequest) (int64, error) {
	return c.store.InsertJoinRequest(ctx, storage.NewJoinRequest{
		UserID:    req.UserID,
		Username:  req.Username,
		FullName:  req.FullName,
		ChatID:    req.ChatID,
		ChatTitle: req.ChatTitle,
	})
}

// notifyAdmins sends to every admin independently; one failure never blocks
// the rest.
func (c *Coordinator) notifyAdmins(ctx context.Context, text string, markup any, log logx.Logger) {
	for _, adminID := range c.adminsSnapshot() {
		opt := &kit.SendOptions{ParseMode: "HTML"}
		if markup != nil {
			opt.ReplyMarkupAdapter = markup
		}
		if _, err := c.adapter.SendText(ctx, kit.UserTarget(adminID), text, opt); err != nil {
			log.Warn("admin notification failed", logx.Int64("admin_id", adminID), logx.Err(err))
		}
	}
}

// adminSummary is HTML (notifyAdmins sends with ParseMode=HTML).
func adminSummary(req *kit.JoinRequest, requestID int64) string {
	var b strings.Builder
	b.WriteString("New request to join " + tgui.B(req.ChatTitle).String())
	b.WriteString("\nfrom " + tgui.Mention(req.FullName, req.UserID).String())
	if req.Username != "" {
		b.WriteString(" " + tgui.Esc("(@"+req.Username+")").String())
	}
	b.WriteString("\nUser ID: " + tgui.Code(strconv.FormatInt(req.UserID, 10)).String())
	if requestID > 0 {
		fmt.Fprintf(&b, "\nRequest ID: %d", requestID)
	}
	return b.String()
}

// sendRequesterWelcome renders the stored welcome template and sends it to
// the requester, optionally as a photo caption when a welcome photo is
// configured.
func (c *Coordinator) sendRequesterWelcome(ctx context.Context, req *kit.JoinRequest) error {
	text, opt, err := c.renderWelcome(ctx, req.FullName, req.ChatTitle)
	if err != nil {
		return err
	}

	photo, ok, _ := c.store.GetSetting(ctx, SettingWelcomePhoto)
	if ok && photo != "" {
		if _, statErr := os.Stat(photo); statErr == nil {
			_, err = c.adapter.SendPhoto(ctx, kit.UserTarget(req.UserID), photo, text, opt)
			return err
		}
	}
	_, err = c.adapter.SendText(ctx, kit.UserTarget(req.UserID), text, opt)
	return err
}

// renderWelcome resolves template, placeholders and render mode.
func (c *Coordinator) renderWelcome(ctx context.Context, userName, chatTitle string) (string, *kit.SendOptions, error) {
	tpl, ok, err := c.store.GetSetting(ctx, SettingWelcomeMessage)
	if err != nil {
		return "", nil, err
	}
	if !ok || tpl == "" {
		tpl = c.cfg.DefaultWelcome
	}

	mode, _, err := c.store.GetSetting(ctx, SettingParseMode)
	if err != nil {
		return "", nil, err
	}

	opt := &kit.SendOptions{}
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case ModeHTML:
		opt.ParseMode = "HTML"
	case ModeMarkdown:
		opt.ParseMode = "Markdown"
	case ModeEntities:
		// Pre-serialized style annotations stored alongside a formatted
		// variant of the template; rendered to HTML here, placeholders
		// substituted afterwards so entity offsets stay valid.
		formatted, ok, err := c.store.GetSetting(ctx, SettingWelcomeFormatted)
		if err != nil {
			return "", nil, err
		}
		if ok && formatted != "" {
			entsJSON, _, err := c.store.GetSetting(ctx, SettingWelcomeEntities)
			if err != nil {
				return "", nil, err
			}
			if entsJSON != "" {
				htmlText, rerr := renderEntities(formatted, entsJSON)
				if rerr != nil {
					c.log.Warn("welcome entities unusable; falling back to plain text", logx.Err(rerr))
				} else {
					opt.ParseMode = "HTML"
					return substitute(htmlText, tgui.Esc(userName).String(), tgui.Esc(chatTitle).String()), opt, nil
				}
			}
		}
	}

	return substitute(tpl, userName, chatTitle), opt, nil
}
