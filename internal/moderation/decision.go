package moderation

import (
	"context"
	"fmt"
	"time"

	"gatebot/internal/storage"
	kit "gatebot/internal/transport"
	"gatebot/pkg/logx"
	"gatebot/pkg/tgui"
)

// ResolveDecision handles an approve/reject button press on an admin
// notification. The callback payload carries the ledger request id plus the
// user and chat ids needed for the transport call.
func (c *Coordinator) ResolveDecision(ctx context.Context, cb *kit.Callback) {
	ns, action, payload := tgui.SplitData(cb.Data)
	if ns != CallbackNS {
		return
	}
	ids, ok := tgui.ParseInts(payload, 3)
	if !ok {
		c.answer(ctx, cb, "Malformed request reference.")
		return
	}
	requestID, userID, chatID := ids[0], ids[1], ids[2]

	log := c.log.With(
		logx.Int64("request_id", requestID),
		logx.Int64("actor_id", cb.FromID),
	)

	if !c.IsAdmin(cb.FromID) {
		// Non-admin presses never touch the ledger or the transport.
		log.Warn("decision callback from non-admin ignored")
		c.answer(ctx, cb, "You are not allowed to do that.")
		return
	}

	rec, err := c.store.GetJoinRequest(ctx, requestID)
	if err != nil {
		log.Error("load join request", logx.Err(err))
		c.answer(ctx, cb, "Storage error, try again.")
		return
	}
	if rec == nil || rec.Status != storage.StatusPending {
		c.answer(ctx, cb, "Already handled.")
		c.clearNotification(ctx, cb, cb.MessageText+"\n\nAlready handled.", log)
		return
	}

	switch action {
	case actionApprove:
		c.resolveApprove(ctx, cb, requestID, userID, chatID, log)
	case actionReject:
		c.resolveReject(ctx, cb, requestID, userID, chatID, log)
	default:
		c.answer(ctx, cb, "Unknown action.")
	}
}

// resolveApprove performs the transport call first; the ledger transition is
// recorded only once the platform accepted the approval. The conditional
// update also closes the race between two admins pressing at once.
func (c *Coordinator) resolveApprove(ctx context.Context, cb *kit.Callback, requestID, userID, chatID int64, log logx.Logger) {
	if err := c.adapter.ApproveJoinRequest(ctx, chatID, userID); err != nil {
		log.Error("approve transport call failed", logx.Err(err))
		c.answer(ctx, cb, "Approval failed: "+err.Error())
		return
	}

	ok, err := c.store.MarkApproved(ctx, requestID, cb.FromID)
	if err != nil {
		log.Error("mark approved", logx.Err(err))
		c.answer(ctx, cb, "Storage error, try again.")
		return
	}
	if !ok {
		// Another admin resolved it between our read and the update.
		c.answer(ctx, cb, "Already handled.")
		c.clearNotification(ctx, cb, cb.MessageText+"\n\nAlready handled.", log)
		return
	}

	if err := c.store.AddSubscriber(ctx, userID); err != nil {
		log.Error("add subscriber", logx.Err(err))
	}

	log.Info("join request approved")
	c.answer(ctx, cb, "Approved.")
	c.clearNotification(ctx, cb, fmt.Sprintf("%s\n\n✅ Approved by %s", cb.MessageText, cb.FromName), log)

	if c.greeter != nil {
		if err := sleepCtx(ctx, c.cfg.ApproveDelay); err != nil {
			return
		}
		if err := c.greeter.SendFirstWelcome(ctx, userID); err != nil {
			log.Warn("welcome sequence failed after approval", logx.Err(err))
		}
	}
}

func (c *Coordinator) resolveReject(ctx context.Context, cb *kit.Callback, requestID, userID, chatID int64, log logx.Logger) {
	if err := c.adapter.DeclineJoinRequest(ctx, chatID, userID); err != nil {
		log.Error("decline transport call failed", logx.Err(err))
		c.answer(ctx, cb, "Rejection failed: "+err.Error())
		return
	}

	ok, err := c.store.MarkRejected(ctx, requestID, cb.FromID)
	if err != nil {
		log.Error("mark rejected", logx.Err(err))
		c.answer(ctx, cb, "Storage error, try again.")
		return
	}
	if !ok {
		c.answer(ctx, cb, "Already handled.")
		c.clearNotification(ctx, cb, cb.MessageText+"\n\nAlready handled.", log)
		return
	}

	log.Info("join request rejected")
	c.answer(ctx, cb, "Rejected.")
	c.clearNotification(ctx, cb, fmt.Sprintf("%s\n\n❌ Rejected by %s", cb.MessageText, cb.FromName), log)
}

func (c *Coordinator) answer(ctx context.Context, cb *kit.Callback, text string) {
	if err := c.adapter.AnswerCallback(ctx, cb.ID, text); err != nil {
		c.log.Warn("answer callback", logx.Err(err))
	}
}

// clearNotification rewrites the admin notification, dropping its buttons.
func (c *Coordinator) clearNotification(ctx context.Context, cb *kit.Callback, text string, log logx.Logger) {
	ref := kit.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}
	if err := c.adapter.EditText(ctx, ref, text, &kit.SendOptions{}); err != nil {
		log.Warn("edit admin notification", logx.Err(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
