package broadcast

import (
	"context"

	kit "gatebot/internal/transport"
	"gatebot/pkg/tgui"
)

// State is the composer wizard step for one admin's draft.
type State string

const (
	StateAwaitingText   State = "awaiting_text"
	StateAwaitingMedia  State = "awaiting_media"
	StateAwaitingButton State = "awaiting_button"
	StatePreview        State = "preview"
)

// Draft accumulates the broadcast content across wizard steps. Text and
// media are kept as references to the admin's source messages so replay
// preserves entities, spoilers and other styling the originals carry.
type Draft struct {
	TextRef kit.SourceRef
	Media   kit.SourceRef
	Button  *Button
}

// Empty reports a draft with nothing to deliver. A button alone counts as
// content: it goes out on a minimal carrier message.
func (d *Draft) Empty() bool {
	return d.TextRef.IsZero() && d.Media.IsZero() && d.Button == nil
}

// deliver replays the draft to one recipient: media first, then the text
// message copied verbatim with the button attached. A draft without text
// gets the button on a minimal follow-up message.
func deliver(ctx context.Context, ad kit.Adapter, to kit.ChatTarget, d *Draft) error {
	var markup any
	if d.Button != nil {
		markup = tgui.NewInline().Row(tgui.URLBtn(d.Button.Label, d.Button.URL)).Markup()
	}

	if !d.Media.IsZero() {
		if _, err := ad.Copy(ctx, to, d.Media, nil); err != nil {
			return err
		}
	}

	switch {
	case !d.TextRef.IsZero():
		opt := &kit.SendOptions{}
		if markup != nil {
			opt.ReplyMarkupAdapter = markup
		}
		_, err := ad.Copy(ctx, to, d.TextRef, opt)
		return err
	case markup != nil:
		_, err := ad.SendText(ctx, to, d.Button.Label, &kit.SendOptions{ReplyMarkupAdapter: markup})
		return err
	}
	return nil
}
