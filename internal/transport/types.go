package transport

import "context"

type UpdateKind string

const (
	UpdateMessage     UpdateKind = "message"
	UpdateCallback    UpdateKind = "callback"
	UpdateJoinRequest UpdateKind = "join_request"
)

// ContentKind tags the payload class of an incoming message.
// The broadcast composer reacts only to the expected class per state.
type ContentKind string

const (
	ContentText      ContentKind = "text"
	ContentPhoto     ContentKind = "photo"
	ContentVideoNote ContentKind = "video_note"
)

// Update is the inbound event sum type. Exactly one of the pointer fields
// is non-nil, matching Kind.
type Update struct {
	Kind        UpdateKind
	Message     *Message
	Callback    *Callback
	JoinRequest *JoinRequest
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	FromName     string
	Content      ContentKind
	// Text holds the message text (ContentText) or caption (media kinds).
	Text string
}

type Callback struct {
	ID        string
	FromID    int64
	FromName  string
	ChatID    int64
	MessageID int
	// MessageText is the current text of the message carrying the buttons,
	// so handlers can annotate it in place.
	MessageText string
	Data        string
}

// JoinRequest is a user's pending request to enter a moderated chat.
type JoinRequest struct {
	UserID    int64
	Username  string
	FullName  string
	ChatID    int64
	ChatTitle string
}

type ChatTarget struct {
	ChatID int64
}

// UserTarget addresses a user's private chat with the bot.
func UserTarget(userID int64) ChatTarget { return ChatTarget{ChatID: userID} }

// MessageRef identifies a message the bot has sent (for edits).
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// SourceRef is an opaque handle to a previously received message,
// sufficient to replay its content verbatim to another recipient without
// re-uploading it. Zero value means "no source captured".
type SourceRef struct {
	ChatID    int64
	MessageID int
}

func (r SourceRef) IsZero() bool { return r.ChatID == 0 && r.MessageID == 0 }

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	// ReplyMarkupAdapter is adapter-specific markup
	// (Telegram: *telebot.ReplyMarkup).
	ReplyMarkupAdapter any
}

// Adapter is the outbound messaging surface the core consumes, plus the
// inbound update feed.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	// Username returns the bot's own username (for deep links).
	Username() string

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	// SendPhoto sends a local image file with an optional caption.
	SendPhoto(ctx context.Context, to ChatTarget, path, caption string, opt *SendOptions) (MessageRef, error)
	// SendAlbum sends local image files as one grouped message.
	SendAlbum(ctx context.Context, to ChatTarget, paths []string) error
	// Copy replays a previously received message to a new recipient.
	Copy(ctx context.Context, to ChatTarget, src SourceRef, opt *SendOptions) (MessageRef, error)
	// EditText rewrites a sent message's text and controls. A nil markup in
	// opt clears any inline keyboard.
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error

	ApproveJoinRequest(ctx context.Context, chatID, userID int64) error
	DeclineJoinRequest(ctx context.Context, chatID, userID int64) error
}
