package telegram

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "gatebot/internal/transport"
	"gatebot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// Adapter bridges telebot to the transport-neutral Update/Adapter surface.
type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Value // stores (chan<- kit.Update)
	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// droppedUpdates counts updates dropped because the consumer was slower
	// than the poll loop. Logged periodically to avoid per-update spam.
	droppedUpdates uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	// Ensure atomic.Value is initialized with a stable dynamic type.
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) Username() string {
	if a.bot == nil || a.bot.Me == nil {
		return ""
	}
	return a.bot.Me.Username
}

func fullName(u *tele.User) string {
	if u == nil {
		return ""
	}
	name := strings.TrimSpace(u.FirstName)
	if u.LastName != "" {
		name = strings.TrimSpace(name + " " + u.LastName)
	}
	return name
}

func (a *Adapter) registerHandlers() {
	// Handlers forward to the CURRENT output channel. Start() may swap it.
	onMessage := func(c tele.Context, content kit.ContentKind, text string) error {
		m := c.Message()
		if m == nil || m.Sender == nil {
			return nil
		}
		a.sendUpdate(kit.Update{
			Kind: kit.UpdateMessage,
			Message: &kit.Message{
				ID:           m.ID,
				ChatID:       m.Chat.ID,
				FromID:       m.Sender.ID,
				FromUsername: m.Sender.Username,
				FromName:     fullName(m.Sender),
				Content:      content,
				Text:         text,
			},
		})
		return nil
	}

	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		return onMessage(c, kit.ContentText, c.Message().Text)
	})
	a.bot.Handle(tele.OnPhoto, func(c tele.Context) error {
		return onMessage(c, kit.ContentPhoto, c.Message().Caption)
	})
	a.bot.Handle(tele.OnVideoNote, func(c tele.Context) error {
		return onMessage(c, kit.ContentVideoNote, "")
	})

	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		m := c.Message()
		if cb == nil || m == nil || cb.Sender == nil {
			return nil
		}
		a.sendUpdate(kit.Update{
			Kind: kit.UpdateCallback,
			Callback: &kit.Callback{
				ID:          cb.ID,
				FromID:      cb.Sender.ID,
				FromName:    fullName(cb.Sender),
				ChatID:      m.Chat.ID,
				MessageID:   m.ID,
				MessageText: m.Text,
				Data:        strings.TrimPrefix(cb.Data, "\f"),
			},
		})
		return nil
	})

	a.bot.Handle(tele.OnChatJoinRequest, func(c tele.Context) error {
		req := c.Update().ChatJoinRequest
		if req == nil || req.Sender == nil || req.Chat == nil {
			return nil
		}
		a.sendUpdate(kit.Update{
			Kind: kit.UpdateJoinRequest,
			JoinRequest: &kit.JoinRequest{
				UserID:    req.Sender.ID,
				Username:  req.Sender.Username,
				FullName:  fullName(req.Sender),
				ChatID:    req.Chat.ID,
				ChatTitle: req.Chat.Title,
			},
		})
		return nil
	})
}

func (a *Adapter) sendUpdate(up kit.Update) {
	v := a.out.Load()
	out, _ := v.(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.runMu.Unlock()

	// Periodic summary for dropped updates.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		report := func() {
			if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
				a.log.Warn("incoming updates dropped (channel full)",
					logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
			}
		}
		for {
			select {
			case <-runCtx.Done():
				report()
				return
			case <-ticker.C:
				report()
			}
		}
	}()

	// Stop telebot when the adapter context is cancelled.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		<-runCtx.Done()
		if a.bot != nil {
			a.bot.Stop()
		}
	}()

	// Telebot's Start() is a long-running loop; it returns after Stop().
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
	}()

	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	wasRunning := a.running
	a.running = false
	cancel := a.cancel
	a.cancel = nil
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	if cancel != nil {
		cancel()
	}

	// Grace window: keep shutdown snappy even if getUpdates long-poll is
	// still waiting.
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	select {
	case <-done:
		return nil
	case <-time.After(grace):
		a.log.Warn("telegram stop timed out")
		return nil
	case <-ctx.Done():
		return nil
	}
}

const telegramTextLimit = 4000

// splitText splits long messages into chunks that are safe to send to
// Telegram, preferring newline boundaries.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := start + limit
		if end > len(rs) {
			end = len(rs)
		}
		if end < len(rs) {
			cut := -1
			for i := end - 1; i > start; i-- {
				if rs[i] == '\n' && i-start >= limit/3 {
					cut = i + 1
					break
				}
			}
			if cut != -1 {
				end = cut
			}
		}
		chunk := strings.TrimRight(string(rs[start:end]), "\n")
		out = append(out, chunk)
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

func sendOptions(opt *kit.SendOptions) *tele.SendOptions {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	so := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
	}
	if rm, ok := opt.ReplyMarkupAdapter.(*tele.ReplyMarkup); ok {
		so.ReplyMarkup = rm
	}
	return so
}

func checkCtx(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	chunks := splitText(text, telegramTextLimit)
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range chunks {
		if err := checkCtx(ctx); err != nil {
			return first, err
		}
		so := sendOptions(opt)
		// Attach markup only to the first message.
		if i > 0 {
			so.ReplyMarkup = nil
		}
		msg, err := a.bot.Send(chat, chunk, so)
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}
		}
	}
	return first, nil
}

func (a *Adapter) SendPhoto(ctx context.Context, to kit.ChatTarget, path, caption string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := checkCtx(ctx); err != nil {
		return kit.MessageRef{}, err
	}
	if _, err := os.Stat(path); err != nil {
		return kit.MessageRef{}, err
	}
	photo := &tele.Photo{File: tele.FromDisk(path), Caption: caption}
	msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, photo, sendOptions(opt))
	if err != nil {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}, nil
}

func (a *Adapter) SendAlbum(ctx context.Context, to kit.ChatTarget, paths []string) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	album := make(tele.Album, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return err
		}
		album = append(album, &tele.Photo{File: tele.FromDisk(p)})
	}
	if len(album) == 0 {
		return errors.New("empty album")
	}
	_, err := a.bot.SendAlbum(&tele.Chat{ID: to.ChatID}, album)
	return err
}

func (a *Adapter) Copy(ctx context.Context, to kit.ChatTarget, src kit.SourceRef, opt *kit.SendOptions) (kit.MessageRef, error) {
	if err := checkCtx(ctx); err != nil {
		return kit.MessageRef{}, err
	}
	stored := tele.StoredMessage{
		MessageID: strconv.Itoa(src.MessageID),
		ChatID:    src.ChatID,
	}
	msg, err := a.bot.Copy(&tele.Chat{ID: to.ChatID}, stored, sendOptions(opt))
	if err != nil {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: msg.ID}, nil
}

func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	chunks := splitText(text, telegramTextLimit)
	_, err := a.bot.Edit(m, chunks[0], sendOptions(opt))
	if err != nil {
		return err
	}
	// Overflow goes out as fresh messages; Telegram cannot edit past the
	// original message's bounds.
	for _, chunk := range chunks[1:] {
		if err := checkCtx(ctx); err != nil {
			return err
		}
		so := sendOptions(opt)
		so.ReplyMarkup = nil
		if _, e := a.bot.Send(&tele.Chat{ID: ref.ChatID}, chunk, so); e != nil {
			return e
		}
	}
	return nil
}

func (a *Adapter) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	return a.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text})
}

func (a *Adapter) ApproveJoinRequest(ctx context.Context, chatID, userID int64) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	return a.bot.ApproveJoinRequest(&tele.Chat{ID: chatID}, &tele.User{ID: userID})
}

func (a *Adapter) DeclineJoinRequest(ctx context.Context, chatID, userID int64) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	return a.bot.DeclineJoinRequest(&tele.Chat{ID: chatID}, &tele.User{ID: userID})
}
