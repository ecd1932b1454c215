package broadcast

import (
	"errors"
	"strings"
)

// ErrMalformedButton reports unusable button input; the composer stays in
// the button step so the admin can retry.
var ErrMalformedButton = errors.New("button must look like: Label / https://example.com")

// Button is an inline URL button attached to the broadcast.
type Button struct {
	Label string
	URL   string
}

// ParseButton parses "Label / url" input. The first slash separates label
// from URL. Bare www. and t.me/ links are upgraded to https.
func ParseButton(input string) (Button, error) {
	parts := strings.SplitN(input, "/", 2)
	if len(parts) != 2 {
		return Button{}, ErrMalformedButton
	}
	label := strings.TrimSpace(parts[0])
	url := strings.TrimSpace(parts[1])
	if label == "" || url == "" {
		return Button{}, ErrMalformedButton
	}

	switch {
	case strings.HasPrefix(url, "http://"), strings.HasPrefix(url, "https://"):
	case strings.HasPrefix(url, "www."), strings.HasPrefix(url, "t.me/"):
		url = "https://" + url
	default:
		return Button{}, ErrMalformedButton
	}
	return Button{Label: label, URL: url}, nil
}
