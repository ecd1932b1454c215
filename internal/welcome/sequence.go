// Package welcome implements the two-stage onboarding sequence sent to a
// freshly approved member.
package welcome

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	kit "gatebot/internal/transport"
	"gatebot/pkg/logx"
	"gatebot/pkg/tgui"
)

const (
	defaultActivationParam = "activate_protocol"
	defaultButtonLabel     = "Activate"
	defaultContactLabel    = "Contact us"
	defaultCaption         = "Welcome aboard! Tap the button below to get started."
	defaultShortDelay      = time.Second
	defaultLongDelay       = 10 * time.Second
)

type Config struct {
	// MediaDir is prepended to relative photo paths.
	MediaDir        string
	Photo           string
	Caption         string
	ButtonLabel     string
	ActivationParam string

	AlbumPhotos     []string
	PromoText       string
	ContactUsername string
	ContactLabel    string
	ContactMessage  string
	ReminderText    string

	ShortDelay time.Duration
	LongDelay  time.Duration
}

// Service sends the onboarding sequence. Stage one goes out right after an
// approval; stage two runs when the member taps the deep-link button, which
// reopens the bot with the activation parameter.
type Service struct {
	cfg     Config
	adapter kit.Adapter
	log     logx.Logger
}

func New(cfg Config, adapter kit.Adapter, log logx.Logger) *Service {
	if cfg.ActivationParam == "" {
		cfg.ActivationParam = defaultActivationParam
	}
	if cfg.ButtonLabel == "" {
		cfg.ButtonLabel = defaultButtonLabel
	}
	if cfg.ContactLabel == "" {
		cfg.ContactLabel = defaultContactLabel
	}
	if cfg.Caption == "" {
		cfg.Caption = defaultCaption
	}
	if cfg.ShortDelay <= 0 {
		cfg.ShortDelay = defaultShortDelay
	}
	if cfg.LongDelay <= 0 {
		cfg.LongDelay = defaultLongDelay
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, adapter: adapter, log: log}
}

// MatchesActivation reports whether a /start payload should trigger stage
// two.
func (s *Service) MatchesActivation(param string) bool {
	return param == s.cfg.ActivationParam
}

// SendFirstWelcome delivers stage one: a photo (or plain text) with a
// deep-link button that reopens the bot carrying the activation parameter.
func (s *Service) SendFirstWelcome(ctx context.Context, userID int64) error {
	link := fmt.Sprintf("https://t.me/%s?start=%s", s.adapter.Username(), url.QueryEscape(s.cfg.ActivationParam))
	markup := tgui.NewInline().Row(tgui.URLBtn(s.cfg.ButtonLabel, link)).Markup()
	opt := &kit.SendOptions{ReplyMarkupAdapter: markup}
	to := kit.UserTarget(userID)

	if path, ok := s.mediaPath(s.cfg.Photo); ok {
		_, err := s.adapter.SendPhoto(ctx, to, path, s.cfg.Caption, opt)
		return err
	}
	_, err := s.adapter.SendText(ctx, to, s.cfg.Caption, opt)
	return err
}

// HandleActivation delivers stage two: the album, then after a short pause
// the promo with a contact button, then after a longer pause the reminder.
// Each part is independent; a failed part is logged and the rest still goes
// out. Only context cancellation aborts the sequence.
func (s *Service) HandleActivation(ctx context.Context, userID int64) {
	log := s.log.With(logx.Int64("user_id", userID))
	to := kit.UserTarget(userID)

	if album := s.albumPaths(); len(album) > 0 {
		if err := s.adapter.SendAlbum(ctx, to, album); err != nil {
			log.Warn("welcome album failed", logx.Err(err))
		}
	}

	if err := sleepCtx(ctx, s.cfg.ShortDelay); err != nil {
		return
	}

	if s.cfg.PromoText != "" {
		opt := &kit.SendOptions{}
		if link, ok := s.contactLink(); ok {
			opt.ReplyMarkupAdapter = tgui.NewInline().Row(tgui.URLBtn(s.cfg.ContactLabel, link)).Markup()
		}
		if _, err := s.adapter.SendText(ctx, to, s.cfg.PromoText, opt); err != nil {
			log.Warn("welcome promo failed", logx.Err(err))
		}
	}

	if s.cfg.ReminderText == "" {
		return
	}
	if err := sleepCtx(ctx, s.cfg.LongDelay); err != nil {
		return
	}
	if _, err := s.adapter.SendText(ctx, to, s.cfg.ReminderText, nil); err != nil {
		log.Warn("welcome reminder failed", logx.Err(err))
	}
}

// contactLink builds a t.me deep link that opens a chat with the contact
// account, pre-filling the configured message.
func (s *Service) contactLink() (string, bool) {
	if s.cfg.ContactUsername == "" {
		return "", false
	}
	link := "https://t.me/" + s.cfg.ContactUsername
	if s.cfg.ContactMessage != "" {
		link += "?text=" + url.QueryEscape(s.cfg.ContactMessage)
	}
	return link, true
}

// mediaPath resolves a configured photo against MediaDir and checks it
// exists on disk.
func (s *Service) mediaPath(name string) (string, bool) {
	if name == "" {
		return "", false
	}
	path := name
	if !filepath.IsAbs(path) && s.cfg.MediaDir != "" {
		path = filepath.Join(s.cfg.MediaDir, path)
	}
	if _, err := os.Stat(path); err != nil {
		s.log.Warn("welcome media missing", logx.String("path", path), logx.Err(err))
		return "", false
	}
	return path, true
}

func (s *Service) albumPaths() []string {
	var out []string
	for _, p := range s.cfg.AlbumPhotos {
		if path, ok := s.mediaPath(p); ok {
			out = append(out, path)
		}
	}
	return out
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
