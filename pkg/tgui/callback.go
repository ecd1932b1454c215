package tgui

import (
	"strconv"
	"strings"
)

// Data formats inline callback data as "ns:action:payload".
// Payload parts are joined with ':'. Telegram caps callback_data at 64
// bytes, so payloads should stay small (numeric IDs, short tokens).
func Data(ns, action string, payload ...string) string {
	ns = strings.TrimSpace(ns)
	action = strings.TrimSpace(action)
	parts := append([]string{ns, action}, payload...)
	return strings.Join(parts, ":")
}

// Ints formats int64 values for use as Data payload parts.
func Ints(vs ...int64) []string {
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		out = append(out, strconv.FormatInt(v, 10))
	}
	return out
}

// SplitData splits callback data produced by Data into
// (ns, action, payload parts). Both ns and action are empty if the
// data has fewer than two segments.
func SplitData(data string) (ns, action string, payload []string) {
	parts := strings.Split(data, ":")
	if len(parts) < 2 {
		return "", "", nil
	}
	return parts[0], parts[1], parts[2:]
}

// ParseInts parses payload parts as int64 values. It returns false if any
// part is not an integer or if the count differs from want.
func ParseInts(payload []string, want int) ([]int64, bool) {
	if len(payload) != want {
		return nil, false
	}
	out := make([]int64, 0, want)
	for _, p := range payload {
		v, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, false
		}
		out = append(out, v)
	}
	return out, true
}
