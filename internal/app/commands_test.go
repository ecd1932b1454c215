package app

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	cases := []struct {
		in  string
		cmd string
		arg string
		ok  bool
	}{
		{in: "/start", cmd: "/start", ok: true},
		{in: "/start activate_protocol", cmd: "/start", arg: "activate_protocol", ok: true},
		{in: "/HELP", cmd: "/help", ok: true},
		{in: "/auto_approve on", cmd: "/auto_approve", arg: "on", ok: true},
		{in: "/pending@gatebot", cmd: "/pending", ok: true},
		{in: "/pending@otherbot", ok: false},
		{in: "hello", ok: false},
		{in: "", ok: false},
	}

	for _, tc := range cases {
		cmd, arg, ok := parseCommand(tc.in, "gatebot")
		require.Equal(t, tc.ok, ok, tc.in)
		if !tc.ok {
			continue
		}
		require.Equal(t, tc.cmd, cmd, tc.in)
		require.Equal(t, tc.arg, arg, tc.in)
	}
}
