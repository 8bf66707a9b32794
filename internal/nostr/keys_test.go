package nostr

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"nostr-feed/internal/types"
)

func TestKey(t *testing.T) {
	note := types.Event{ID: "id1", PubKey: "pk", Kind: KindTextNote}
	assert.Equal(t, "id1", Key(note))

	profile := types.Event{ID: "id2", PubKey: "pk", Kind: KindProfile}
	assert.Equal(t, "0:pk:", Key(profile))

	muteList := types.Event{ID: "id3", PubKey: "pk", Kind: 10000}
	assert.Equal(t, "10000:pk:", Key(muteList))

	article := types.Event{ID: "id4", PubKey: "pk", Kind: 30023, Tags: [][]string{{"d", "hello"}}}
	assert.Equal(t, "30023:pk:hello", Key(article))

	newer := types.Event{ID: "id5", PubKey: "pk", Kind: 30023, CreatedAt: 9, Tags: [][]string{{"d", "hello"}}}
	assert.Equal(t, Key(article), Key(newer), "versions of an addressable event share a key")
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "abc", ShortID("abc"))
	assert.Equal(t, "0123456789ab", ShortID("0123456789abcdef"))
}

func TestParseEventFromInterface(t *testing.T) {
	raw := map[string]interface{}{
		"id":         "abc",
		"pubkey":     "pk",
		"created_at": float64(1700000000),
		"kind":       float64(1),
		"content":    "hi",
		"tags":       []interface{}{[]interface{}{"e", "parent", "", "reply"}, "junk"},
	}
	evt, ok := ParseEventFromInterface(raw)
	assert.True(t, ok)
	assert.Equal(t, int64(1700000000), evt.CreatedAt)
	assert.Equal(t, 1, evt.Kind)
	assert.Equal(t, [][]string{{"e", "parent", "", "reply"}}, evt.Tags)

	_, ok = ParseEventFromInterface("not an object")
	assert.False(t, ok)

	_, ok = ParseEventFromInterface(map[string]interface{}{"pubkey": "pk"})
	assert.False(t, ok)
}
