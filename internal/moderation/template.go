package moderation

import (
	"encoding/json"
	"fmt"
	"html"
	"sort"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// Settings keys consumed by the coordinator. The welcome message and its
// render mode are admin-editable at runtime, so they live in the settings
// store rather than the config file.
const (
	SettingAutoApprove      = "auto_approve"
	SettingWelcomeMessage   = "welcome_message"
	SettingWelcomePhoto     = "welcome_photo"
	SettingParseMode        = "parse_mode"
	SettingWelcomeFormatted = "welcome_message_formatted"
	SettingWelcomeEntities  = "welcome_message_entities"
)

// Render modes for the stored welcome message.
const (
	ModeNone     = "none"
	ModeHTML     = "html"
	ModeMarkdown = "markdown"
	ModeEntities = "entities"
)

// DefaultWelcomeTemplate is used when the settings store has no template
// and the config provides none.
const DefaultWelcomeTemplate = "Hi {user_name}! Your request to join {chat_title} has been received."

// substitute interpolates the template placeholders.
func substitute(tpl, userName, chatTitle string) string {
	return strings.NewReplacer(
		"{user_name}", userName,
		"{chat_title}", chatTitle,
	).Replace(tpl)
}

// styleEntity is one pre-serialized style annotation over plain text, in
// Telegram's wire shape. Offset and Length count UTF-16 code units.
type styleEntity struct {
	Type   string `json:"type"`
	Offset int    `json:"offset"`
	Length int    `json:"length"`
	URL    string `json:"url,omitempty"`
}

var entityTags = map[string]string{
	"bold":          "b",
	"italic":        "i",
	"underline":     "u",
	"strikethrough": "s",
	"spoiler":       "tg-spoiler",
	"code":          "code",
	"blockquote":    "blockquote",
}

// renderEntities converts plain text plus serialized style annotations into
// Telegram-safe HTML. Overlapping (non-nested) entities are rejected;
// entities with unknown types are skipped.
func renderEntities(text, entitiesJSON string) (string, error) {
	if !utf8.ValidString(text) {
		return "", fmt.Errorf("invalid utf-8 in source text")
	}
	var ents []styleEntity
	if err := json.Unmarshal([]byte(entitiesJSON), &ents); err != nil {
		return "", fmt.Errorf("decode entities: %w", err)
	}

	units := utf16.Encode([]rune(text))
	keep := ents[:0]
	for _, e := range ents {
		if e.Length <= 0 || e.Offset < 0 || e.Offset+e.Length > len(units) {
			continue
		}
		if entityTags[e.Type] == "" && e.Type != "text_link" {
			continue
		}
		keep = append(keep, e)
	}
	ents = keep
	sort.Slice(ents, func(i, j int) bool { return ents[i].Offset < ents[j].Offset })
	for i := 1; i < len(ents); i++ {
		if ents[i].Offset < ents[i-1].Offset+ents[i-1].Length {
			return "", fmt.Errorf("overlapping entities at offset %d", ents[i].Offset)
		}
	}

	var b strings.Builder
	pos := 0
	emit := func(from, to int) {
		if from < to {
			b.WriteString(html.EscapeString(string(utf16.Decode(units[from:to]))))
		}
	}
	for _, e := range ents {
		emit(pos, e.Offset)
		inner := html.EscapeString(string(utf16.Decode(units[e.Offset : e.Offset+e.Length])))
		if e.Type == "text_link" {
			fmt.Fprintf(&b, `<a href="%s">%s</a>`, html.EscapeString(e.URL), inner)
		} else {
			tag := entityTags[e.Type]
			b.WriteString("<" + tag + ">" + inner + "</" + tag + ">")
		}
		pos = e.Offset + e.Length
	}
	emit(pos, len(units))

	return b.String(), nil
}
