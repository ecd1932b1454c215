package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	kit "gatebot/internal/transport"
	"gatebot/pkg/logx"
)

type sent struct {
	ChatID int64
	Text   string
	Markup any
}

type copied struct {
	ChatID int64
	Src    kit.SourceRef
	Markup any
}

type fakeAdapter struct {
	mu sync.Mutex

	texts  []sent
	copies []copied

	failFor map[int64]error
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }
func (f *fakeAdapter) Username() string                               { return "testbot" }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[to.ChatID]; err != nil {
		return kit.MessageRef{}, err
	}
	var markup any
	if opt != nil {
		markup = opt.ReplyMarkupAdapter
	}
	f.texts = append(f.texts, sent{ChatID: to.ChatID, Text: text, Markup: markup})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.texts)}, nil
}

func (f *fakeAdapter) SendPhoto(_ context.Context, to kit.ChatTarget, _, caption string, opt *kit.SendOptions) (kit.MessageRef, error) {
	return f.SendText(context.Background(), to, caption, opt)
}

func (f *fakeAdapter) SendAlbum(context.Context, kit.ChatTarget, []string) error { return nil }

func (f *fakeAdapter) Copy(_ context.Context, to kit.ChatTarget, src kit.SourceRef, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failFor[to.ChatID]; err != nil {
		return kit.MessageRef{}, err
	}
	var markup any
	if opt != nil {
		markup = opt.ReplyMarkupAdapter
	}
	f.copies = append(f.copies, copied{ChatID: to.ChatID, Src: src, Markup: markup})
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}
func (f *fakeAdapter) AnswerCallback(context.Context, string, string) error   { return nil }
func (f *fakeAdapter) ApproveJoinRequest(context.Context, int64, int64) error { return nil }
func (f *fakeAdapter) DeclineJoinRequest(context.Context, int64, int64) error { return nil }

func (f *fakeAdapter) textsTo(chatID int64) []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sent
	for _, s := range f.texts {
		if s.ChatID == chatID {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeAdapter) copiesTo(chatID int64) []copied {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []copied
	for _, c := range f.copies {
		if c.ChatID == chatID {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeAdapter) lastTextTo(t *testing.T, chatID int64) sent {
	t.Helper()
	msgs := f.textsTo(chatID)
	require.NotEmpty(t, msgs)
	return msgs[len(msgs)-1]
}

type fixedSubs struct{ ids []int64 }

func (s fixedSubs) ListSubscriberIDs(context.Context) ([]int64, error) { return s.ids, nil }

func newTestComposer(subs []int64) (*Composer, *fakeAdapter) {
	ad := &fakeAdapter{failFor: map[int64]error{}}
	fan := NewFanout(ad, 10_000, logx.Nop())
	return NewComposer(ad, fixedSubs{ids: subs}, fan, logx.Nop()), ad
}

const admin = int64(10)

func textMsg(id int, text string) *kit.Message {
	return &kit.Message{ID: id, ChatID: admin, FromID: admin, Content: kit.ContentText, Text: text}
}

func photoMsg(id int) *kit.Message {
	return &kit.Message{ID: id, ChatID: admin, FromID: admin, Content: kit.ContentPhoto}
}

func TestWizardFullDraftAndSend(t *testing.T) {
	co, ad := newTestComposer([]int64{100, 200})
	ctx := context.Background()

	co.Start(ctx, admin)
	require.True(t, co.Active(admin))

	co.HandleMessage(ctx, admin, textMsg(51, "big news"))
	co.HandleMessage(ctx, admin, photoMsg(52))
	co.HandleMessage(ctx, admin, textMsg(53, "Read more / www.example.com"))

	// Preview replays both references back to the author: the media copy,
	// then the text copy carrying the button.
	preview := ad.copiesTo(admin)
	require.Len(t, preview, 2)
	require.Equal(t, kit.SourceRef{ChatID: admin, MessageID: 52}, preview[0].Src)
	require.Equal(t, kit.SourceRef{ChatID: admin, MessageID: 51}, preview[1].Src)
	require.Nil(t, preview[0].Markup)
	require.NotNil(t, preview[1].Markup)

	co.Send(ctx, admin)
	require.False(t, co.Active(admin))

	for _, sub := range []int64{100, 200} {
		copies := ad.copiesTo(sub)
		require.Len(t, copies, 2)
		require.Equal(t, 52, copies[0].Src.MessageID)
		require.Equal(t, 51, copies[1].Src.MessageID)
		require.NotNil(t, copies[1].Markup)
		// The text rides the copied source message, never a fresh send.
		require.Empty(t, ad.textsTo(sub))
	}
	require.Contains(t, ad.lastTextTo(t, admin).Text, "2 delivered, 0 failed")
}

func TestTextReplayedByReference(t *testing.T) {
	co, ad := newTestComposer([]int64{100})
	ctx := context.Background()

	co.Start(ctx, admin)
	co.HandleMessage(ctx, admin, textMsg(555, "spoiler text"))
	co.Skip(ctx, admin) // no media
	co.Skip(ctx, admin) // no button
	co.Send(ctx, admin)

	// The recipient gets a copy of message 555; its styling survives because
	// the content is never re-rendered from a plain string.
	copies := ad.copiesTo(100)
	require.Len(t, copies, 1)
	require.Equal(t, kit.SourceRef{ChatID: admin, MessageID: 555}, copies[0].Src)
	require.Empty(t, ad.textsTo(100))
}

func TestWizardMalformedButtonKeepsState(t *testing.T) {
	co, ad := newTestComposer(nil)
	ctx := context.Background()

	co.Start(ctx, admin)
	co.HandleMessage(ctx, admin, textMsg(1, "hello"))
	co.Skip(ctx, admin) // no media

	co.HandleMessage(ctx, admin, textMsg(2, "Results / example.com"))
	require.Contains(t, ad.lastTextTo(t, admin).Text, "Label / https://example.com")

	// Still in the button step: a valid retry lands in the preview.
	co.HandleMessage(ctx, admin, textMsg(3, "Results / www.example.com"))
	require.Contains(t, ad.lastTextTo(t, admin).Text, "/send")
}

func TestWizardWrongContentReprompts(t *testing.T) {
	co, ad := newTestComposer(nil)
	ctx := context.Background()

	co.Start(ctx, admin)
	co.HandleMessage(ctx, admin, textMsg(1, "hello"))

	// Text where media is expected does not advance the wizard.
	co.HandleMessage(ctx, admin, textMsg(2, "not a photo"))
	require.Equal(t, promptMedia, ad.lastTextTo(t, admin).Text)
	require.True(t, co.Active(admin))
}

func TestWizardAllSkippedDraftRefusedOnSend(t *testing.T) {
	co, ad := newTestComposer([]int64{100})
	ctx := context.Background()

	co.Start(ctx, admin)
	co.Skip(ctx, admin)
	co.Skip(ctx, admin)
	co.Skip(ctx, admin)
	require.Equal(t, msgEmpty, ad.lastTextTo(t, admin).Text)

	co.Send(ctx, admin)
	require.True(t, co.Active(admin))
	require.Equal(t, msgEmpty, ad.lastTextTo(t, admin).Text)
	require.Empty(t, ad.textsTo(100))
	require.Empty(t, ad.copiesTo(100))
}

func TestButtonOnlyDraftPreviewsAndSends(t *testing.T) {
	co, ad := newTestComposer([]int64{100})
	ctx := context.Background()

	co.Start(ctx, admin)
	co.Skip(ctx, admin) // no text
	co.Skip(ctx, admin) // no media
	co.HandleMessage(ctx, admin, textMsg(1, "Open / https://example.com"))

	// Preview and /send agree: a lone button is deliverable content.
	preview := ad.lastTextTo(t, admin)
	require.Contains(t, preview.Text, "/send")

	co.Send(ctx, admin)
	require.False(t, co.Active(admin))

	msgs := ad.textsTo(100)
	require.Len(t, msgs, 1)
	require.Equal(t, "Open", msgs[0].Text)
	require.NotNil(t, msgs[0].Markup)
	require.Contains(t, ad.lastTextTo(t, admin).Text, "1 delivered, 0 failed")
}

func TestWizardCancel(t *testing.T) {
	co, ad := newTestComposer(nil)
	ctx := context.Background()

	co.Start(ctx, admin)
	co.HandleMessage(ctx, admin, textMsg(1, "draft"))
	co.Cancel(ctx, admin)
	require.False(t, co.Active(admin))
	require.Equal(t, msgCancelled, ad.lastTextTo(t, admin).Text)

	// Messages after cancel are ignored by the wizard.
	co.HandleMessage(ctx, admin, textMsg(2, "stray"))
	require.False(t, co.Active(admin))
}

func TestCancelWithoutDraftReportsNoop(t *testing.T) {
	co, ad := newTestComposer(nil)
	ctx := context.Background()

	co.Cancel(ctx, admin)
	require.Equal(t, msgNoDraft, ad.lastTextTo(t, admin).Text)
	require.False(t, co.Active(admin))
}

func TestAdvanceIgnoresStaleState(t *testing.T) {
	co, _ := newTestComposer(nil)
	ctx := context.Background()

	co.Start(ctx, admin)
	co.HandleMessage(ctx, admin, textMsg(1, "first"))

	// A step applied against a state the wizard already left is dropped,
	// as happens when two messages from one admin race through the pool.
	co.advance(ctx, admin, StateAwaitingText, StateAwaitingMedia, func(s *session) {
		s.draft.TextRef = kit.SourceRef{ChatID: admin, MessageID: 99}
	})

	co.mu.Lock()
	s := co.sessions[admin]
	co.mu.Unlock()
	require.Equal(t, StateAwaitingMedia, s.state)
	require.Equal(t, 1, s.draft.TextRef.MessageID)
}

func TestFanoutPartialFailure(t *testing.T) {
	ad := &fakeAdapter{failFor: map[int64]error{
		200: errors.New("blocked"),
		400: errors.New("deactivated"),
	}}
	fan := NewFanout(ad, 10_000, logx.Nop())

	d := &Draft{TextRef: kit.SourceRef{ChatID: admin, MessageID: 9}}
	rep := fan.Run(context.Background(), []int64{100, 200, 300, 400, 500}, d)

	require.Equal(t, Report{Sent: 3, Failed: 2}, rep)
	// Every recipient after a failure was still attempted.
	require.Len(t, ad.copiesTo(500), 1)
}

func TestFanoutMediaOnlyWithButton(t *testing.T) {
	ad := &fakeAdapter{failFor: map[int64]error{}}
	fan := NewFanout(ad, 10_000, logx.Nop())

	d := &Draft{
		Media:  kit.SourceRef{ChatID: admin, MessageID: 3},
		Button: &Button{Label: "Open", URL: "https://example.com"},
	}
	rep := fan.Run(context.Background(), []int64{100}, d)

	require.Equal(t, Report{Sent: 1, Failed: 0}, rep)
	require.Len(t, ad.copiesTo(100), 1)
	msg := ad.lastTextTo(t, 100)
	require.Equal(t, "Open", msg.Text)
	require.NotNil(t, msg.Markup)
}
