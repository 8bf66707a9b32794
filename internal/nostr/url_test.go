package nostr

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeRelayURL(t *testing.T) {
	cases := map[string]string{
		"wss://Relay.Damus.io/":      "wss://relay.damus.io",
		" wss://nos.lol ":            "wss://nos.lol",
		"ws://localhost:7777":        "ws://localhost:7777",
		"ws://127.0.0.1:4869/path/":  "ws://127.0.0.1:4869/path",
		"https://relay.damus.io":     "",
		"wss://https://relay.damus":  "",
		"relay.damus.io":             "",
		"wss://printer.local":        "",
		"wss://nohost":               "",
		"wss://relay.example.com%20": "",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeRelayURL(in), in)
	}
}

func TestRelayInfoURL(t *testing.T) {
	assert.Equal(t, "https://nos.lol", RelayInfoURL("wss://nos.lol"))
	assert.Equal(t, "http://127.0.0.1:80", RelayInfoURL("ws://127.0.0.1:80"))
}
