package config

// Config is the full configuration for the bot process.
//
// The file may be JSON or YAML; YAML is coerced to JSON and decoded
// strictly (unknown fields are rejected). All durations are Go duration
// strings (e.g. "500ms", "2s", "1m").
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Broadcast BroadcastConfig `json:"broadcast,omitempty"`
	Welcome   WelcomeConfig   `json:"welcome,omitempty"`
	Digest    DigestConfig    `json:"digest,omitempty"`

	// DefaultWelcomeMessage is the fallback template used when the
	// settings store has no "welcome_message" key. Placeholders:
	// {user_name}, {chat_title}.
	DefaultWelcomeMessage string `json:"default_welcome_message,omitempty"`
}

// TelegramConfig configures the transport adapter and the administrator
// allow-list.
//
// Token may be left empty, in which case the BOT_TOKEN environment
// variable is used (the usual setup together with a .env file).
type TelegramConfig struct {
	Token        string  `json:"token,omitempty"`
	AdminUserIDs []int64 `json:"admin_user_ids"`
	PollTimeout  string  `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string         `json:"level"`
	Console bool           `json:"console"`
	File    FileLogSection `json:"file"`
}

type FileLogSection struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig points at the SQLite database file.
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// BroadcastConfig tunes the fan-out executor.
// RatePerSec bounds outbound sends; 0 means the default (20/s, below
// Telegram's ~30 msg/s bot limit).
type BroadcastConfig struct {
	RatePerSec int `json:"rate_per_sec,omitempty"`
}

// WelcomeConfig drives the post-approval welcome sequence.
//
// Stage one: a photo with caption and a deep-link button that reopens the
// bot with ActivationParam. Stage two (on /start <ActivationParam>): an
// album, a short pause, a promo text with a contact deep-link button, a
// longer pause, then a reminder.
type WelcomeConfig struct {
	MediaDir        string   `json:"media_dir,omitempty"`
	Photo           string   `json:"photo,omitempty"`
	Caption         string   `json:"caption,omitempty"`
	ButtonLabel     string   `json:"button_label,omitempty"`
	ActivationParam string   `json:"activation_param,omitempty"`
	AlbumPhotos     []string `json:"album_photos,omitempty"`
	PromoText       string   `json:"promo_text,omitempty"`
	ContactUsername string   `json:"contact_username,omitempty"`
	ContactLabel    string   `json:"contact_label,omitempty"`
	ContactMessage  string   `json:"contact_message,omitempty"`
	ReminderText    string   `json:"reminder_text,omitempty"`
	ShortDelay      string   `json:"short_delay,omitempty"`
	LongDelay       string   `json:"long_delay,omitempty"`
	ApproveDelay    string   `json:"approve_delay,omitempty"`
}

// DigestConfig schedules a periodic pending-requests digest to admins.
// Schedule is a standard 5-field cron spec.
type DigestConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule,omitempty"`
}
