package welcome

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	kit "gatebot/internal/transport"
	"gatebot/pkg/logx"
)

type sent struct {
	ChatID int64
	Text   string
	Markup any
}

type fakeAdapter struct {
	mu sync.Mutex

	texts  []sent
	photos []sent
	albums [][]string

	failAlbum error
	failPromo bool
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }
func (f *fakeAdapter) Username() string                               { return "gatebot" }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPromo {
		f.failPromo = false
		return kit.MessageRef{}, errors.New("promo rejected")
	}
	var markup any
	if opt != nil {
		markup = opt.ReplyMarkupAdapter
	}
	f.texts = append(f.texts, sent{ChatID: to.ChatID, Text: text, Markup: markup})
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeAdapter) SendPhoto(_ context.Context, to kit.ChatTarget, path, caption string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var markup any
	if opt != nil {
		markup = opt.ReplyMarkupAdapter
	}
	f.photos = append(f.photos, sent{ChatID: to.ChatID, Text: path + "|" + caption, Markup: markup})
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeAdapter) SendAlbum(_ context.Context, _ kit.ChatTarget, paths []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAlbum != nil {
		return f.failAlbum
	}
	f.albums = append(f.albums, paths)
	return nil
}

func (f *fakeAdapter) Copy(_ context.Context, to kit.ChatTarget, _ kit.SourceRef, _ *kit.SendOptions) (kit.MessageRef, error) {
	return kit.MessageRef{ChatID: to.ChatID}, nil
}
func (f *fakeAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}
func (f *fakeAdapter) AnswerCallback(context.Context, string, string) error   { return nil }
func (f *fakeAdapter) ApproveJoinRequest(context.Context, int64, int64) error { return nil }
func (f *fakeAdapter) DeclineJoinRequest(context.Context, int64, int64) error { return nil }

func writeFile(t *testing.T, dir, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("img"), 0o644))
}

func TestFirstWelcomeWithPhoto(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "hello.jpg")

	ad := &fakeAdapter{}
	svc := New(Config{MediaDir: dir, Photo: "hello.jpg", Caption: "hi there"}, ad, logx.Nop())

	require.NoError(t, svc.SendFirstWelcome(context.Background(), 42))
	require.Len(t, ad.photos, 1)
	require.Contains(t, ad.photos[0].Text, "hello.jpg|hi there")
	require.NotNil(t, ad.photos[0].Markup)
	require.Empty(t, ad.texts)
}

func TestFirstWelcomeFallsBackToText(t *testing.T) {
	ad := &fakeAdapter{}
	svc := New(Config{Photo: "missing.jpg", Caption: "hi"}, ad, logx.Nop())

	require.NoError(t, svc.SendFirstWelcome(context.Background(), 42))
	require.Empty(t, ad.photos)
	require.Len(t, ad.texts, 1)
	require.NotNil(t, ad.texts[0].Markup)
}

func TestActivationSequence(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.jpg")
	writeFile(t, dir, "b.jpg")

	ad := &fakeAdapter{}
	svc := New(Config{
		MediaDir:        dir,
		AlbumPhotos:     []string{"a.jpg", "b.jpg", "gone.jpg"},
		PromoText:       "promo",
		ContactUsername: "support",
		ContactMessage:  "I want in",
		ReminderText:    "reminder",
		ShortDelay:      time.Millisecond,
		LongDelay:       time.Millisecond,
	}, ad, logx.Nop())

	svc.HandleActivation(context.Background(), 42)

	require.Len(t, ad.albums, 1)
	require.Len(t, ad.albums[0], 2) // missing file filtered out

	require.Len(t, ad.texts, 2)
	require.Equal(t, "promo", ad.texts[0].Text)
	require.NotNil(t, ad.texts[0].Markup)
	require.Equal(t, "reminder", ad.texts[1].Text)
	require.Nil(t, ad.texts[1].Markup)
}

func TestActivationPartFailuresAreIsolated(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.jpg")

	ad := &fakeAdapter{failAlbum: errors.New("album too big"), failPromo: true}
	svc := New(Config{
		MediaDir:     dir,
		AlbumPhotos:  []string{"a.jpg"},
		PromoText:    "promo",
		ReminderText: "reminder",
		ShortDelay:   time.Millisecond,
		LongDelay:    time.Millisecond,
	}, ad, logx.Nop())

	svc.HandleActivation(context.Background(), 42)

	// Album and promo failed, the reminder still went out.
	require.Len(t, ad.texts, 1)
	require.Equal(t, "reminder", ad.texts[0].Text)
}

func TestActivationAbortsOnCancel(t *testing.T) {
	ad := &fakeAdapter{}
	svc := New(Config{
		PromoText:    "promo",
		ReminderText: "reminder",
		ShortDelay:   50 * time.Millisecond,
		LongDelay:    time.Hour,
	}, ad, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.HandleActivation(ctx, 42)
	require.Empty(t, ad.texts)
}

func TestMatchesActivation(t *testing.T) {
	svc := New(Config{}, &fakeAdapter{}, logx.Nop())
	require.True(t, svc.MatchesActivation("activate_protocol"))
	require.False(t, svc.MatchesActivation("other"))
}
