package broadcast

import (
	"context"
	"fmt"
	"sync"

	kit "gatebot/internal/transport"
	"gatebot/pkg/logx"
)

const (
	promptText   = "Send the broadcast text, or /skip to leave it out."
	promptMedia  = "Now send a photo or a video note, or /skip."
	promptButton = "Now send an inline button as \"Label / https://example.com\", or /skip."
	promptReview = "That's the whole broadcast. /send to deliver it to all subscribers, /cancel to discard."
	msgEmpty     = "The draft is empty. Add text or media before sending, or /cancel."
	msgCancelled = "Broadcast discarded."
	msgNoDraft   = "Nothing to cancel."
	msgBusy      = "Sending..."
)

// SubscriberSource lists the broadcast audience.
type SubscriberSource interface {
	ListSubscriberIDs(ctx context.Context) ([]int64, error)
}

type session struct {
	state State
	draft Draft
}

// Composer runs the per-admin broadcast wizard. Each admin has at most one
// draft; starting a new one replaces it.
type Composer struct {
	adapter kit.Adapter
	subs    SubscriberSource
	fan     *Fanout
	log     logx.Logger

	mu       sync.Mutex
	sessions map[int64]*session
}

func NewComposer(adapter kit.Adapter, subs SubscriberSource, fan *Fanout, log logx.Logger) *Composer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Composer{
		adapter:  adapter,
		subs:     subs,
		fan:      fan,
		log:      log,
		sessions: make(map[int64]*session),
	}
}

// Active reports whether the admin has a draft in progress. The dispatcher
// uses it to route an admin's plain messages into the wizard.
func (c *Composer) Active(adminID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sessions[adminID]
	return ok
}

// Start opens (or restarts) the wizard for an admin.
func (c *Composer) Start(ctx context.Context, adminID int64) {
	c.mu.Lock()
	c.sessions[adminID] = &session{state: StateAwaitingText}
	c.mu.Unlock()
	c.log.Info("broadcast draft started", logx.Int64("admin_id", adminID))
	c.reply(ctx, adminID, promptText)
}

// Cancel discards the draft. Without an active draft it reports a no-op.
func (c *Composer) Cancel(ctx context.Context, adminID int64) {
	c.mu.Lock()
	_, ok := c.sessions[adminID]
	delete(c.sessions, adminID)
	c.mu.Unlock()
	if !ok {
		c.reply(ctx, adminID, msgNoDraft)
		return
	}
	c.reply(ctx, adminID, msgCancelled)
}

// Skip advances past the current optional step.
func (c *Composer) Skip(ctx context.Context, adminID int64) {
	c.mu.Lock()
	s, ok := c.sessions[adminID]
	if !ok {
		c.mu.Unlock()
		return
	}
	var next State
	switch s.state {
	case StateAwaitingText:
		next = StateAwaitingMedia
	case StateAwaitingMedia:
		next = StateAwaitingButton
	case StateAwaitingButton:
		next = StatePreview
	default:
		c.mu.Unlock()
		c.reply(ctx, adminID, promptReview)
		return
	}
	s.state = next
	c.mu.Unlock()
	c.enterState(ctx, adminID, next)
}

// HandleMessage feeds one admin message into the wizard. Input that does not
// match the current step leaves the state unchanged and re-prompts.
func (c *Composer) HandleMessage(ctx context.Context, adminID int64, msg *kit.Message) {
	c.mu.Lock()
	s, ok := c.sessions[adminID]
	if !ok {
		c.mu.Unlock()
		return
	}
	state := s.state
	c.mu.Unlock()

	switch state {
	case StateAwaitingText:
		if msg.Content != kit.ContentText || msg.Text == "" {
			c.reply(ctx, adminID, promptText)
			return
		}
		// Keep a reference to the admin's message, not its text: replaying
		// the source preserves entities and styling verbatim.
		src := kit.SourceRef{ChatID: msg.ChatID, MessageID: msg.ID}
		c.advance(ctx, adminID, state, StateAwaitingMedia, func(s *session) { s.draft.TextRef = src })

	case StateAwaitingMedia:
		if msg.Content != kit.ContentPhoto && msg.Content != kit.ContentVideoNote {
			c.reply(ctx, adminID, promptMedia)
			return
		}
		src := kit.SourceRef{ChatID: msg.ChatID, MessageID: msg.ID}
		c.advance(ctx, adminID, state, StateAwaitingButton, func(s *session) { s.draft.Media = src })

	case StateAwaitingButton:
		if msg.Content != kit.ContentText {
			c.reply(ctx, adminID, promptButton)
			return
		}
		btn, err := ParseButton(msg.Text)
		if err != nil {
			c.reply(ctx, adminID, err.Error())
			return
		}
		c.advance(ctx, adminID, state, StatePreview, func(s *session) { s.draft.Button = &btn })

	case StatePreview:
		c.reply(ctx, adminID, promptReview)
	}
}

// Send delivers the draft to all subscribers and closes the session. An
// empty draft is refused and the session stays open.
func (c *Composer) Send(ctx context.Context, adminID int64) {
	c.mu.Lock()
	s, ok := c.sessions[adminID]
	if !ok {
		c.mu.Unlock()
		return
	}
	if s.draft.Empty() {
		c.mu.Unlock()
		c.reply(ctx, adminID, msgEmpty)
		return
	}
	draft := s.draft
	delete(c.sessions, adminID)
	c.mu.Unlock()

	ids, err := c.subs.ListSubscriberIDs(ctx)
	if err != nil {
		c.log.Error("list subscribers", logx.Err(err))
		c.reply(ctx, adminID, "Could not load the subscriber list, draft discarded.")
		return
	}

	c.reply(ctx, adminID, msgBusy)
	rep := c.fan.Run(ctx, ids, &draft)
	c.reply(ctx, adminID, fmt.Sprintf("Broadcast done: %d delivered, %d failed.", rep.Sent, rep.Failed))
}

// advance applies a step only if the session is still in the state the
// caller observed; a concurrent message that already moved the wizard on
// makes this a no-op instead of double-applying.
func (c *Composer) advance(ctx context.Context, adminID int64, from, next State, apply func(*session)) {
	c.mu.Lock()
	s, ok := c.sessions[adminID]
	if !ok || s.state != from {
		c.mu.Unlock()
		return
	}
	apply(s)
	s.state = next
	c.mu.Unlock()
	c.enterState(ctx, adminID, next)
}

func (c *Composer) enterState(ctx context.Context, adminID int64, st State) {
	switch st {
	case StateAwaitingMedia:
		c.reply(ctx, adminID, promptMedia)
	case StateAwaitingButton:
		c.reply(ctx, adminID, promptButton)
	case StatePreview:
		c.preview(ctx, adminID)
	}
}

// preview replays the draft back to its author before asking for /send.
func (c *Composer) preview(ctx context.Context, adminID int64) {
	c.mu.Lock()
	s, ok := c.sessions[adminID]
	if !ok {
		c.mu.Unlock()
		return
	}
	draft := s.draft
	c.mu.Unlock()

	if draft.Empty() {
		c.reply(ctx, adminID, msgEmpty)
		return
	}
	c.reply(ctx, adminID, "Preview:")
	if err := deliver(ctx, c.adapter, kit.UserTarget(adminID), &draft); err != nil {
		c.log.Warn("preview delivery failed", logx.Int64("admin_id", adminID), logx.Err(err))
	}
	c.reply(ctx, adminID, promptReview)
}

func (c *Composer) reply(ctx context.Context, adminID int64, text string) {
	if _, err := c.adapter.SendText(ctx, kit.UserTarget(adminID), text, nil); err != nil {
		c.log.Warn("composer reply failed", logx.Int64("admin_id", adminID), logx.Err(err))
	}
}
