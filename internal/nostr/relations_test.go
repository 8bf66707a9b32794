package nostr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nostr-feed/internal/types"
)

func TestParentKeyMarkedTags(t *testing.T) {
	evt := types.Event{Kind: KindTextNote, Tags: [][]string{
		{"e", "root1", "wss://r.example", "root"},
		{"e", "parent1", "", "reply"},
		{"p", "pk"},
	}}
	parent, ok := ParentKey(evt)
	require.True(t, ok)
	assert.Equal(t, "parent1", parent)

	root, ok := RootKey(evt)
	require.True(t, ok)
	assert.Equal(t, "root1", root)
}

func TestParentKeyRootOnly(t *testing.T) {
	evt := types.Event{Kind: KindTextNote, Tags: [][]string{{"e", "root1", "", "root"}}}
	parent, ok := ParentKey(evt)
	require.True(t, ok)
	assert.Equal(t, "root1", parent, "a reply with only a root marker replies to the root")
}

func TestParentKeyPositional(t *testing.T) {
	single := types.Event{Kind: KindTextNote, Tags: [][]string{{"e", "only"}}}
	parent, ok := ParentKey(single)
	require.True(t, ok)
	assert.Equal(t, "only", parent)

	several := types.Event{Kind: KindTextNote, Tags: [][]string{{"e", "root"}, {"e", "middle"}, {"e", "last"}}}
	rels := ParseRelations(several)
	require.Len(t, rels, 3)
	assert.Equal(t, RelationRoot, rels[0].Kind)
	assert.Equal(t, RelationMention, rels[1].Kind)
	assert.Equal(t, RelationParent, rels[2].Kind)

	parent, ok = ParentKey(several)
	require.True(t, ok)
	assert.Equal(t, "last", parent)
}

func TestParentKeyMixedMarkersIgnorePositional(t *testing.T) {
	evt := types.Event{Kind: KindTextNote, Tags: [][]string{
		{"e", "quoted"},
		{"e", "root1", "", "root"},
	}}
	parent, ok := ParentKey(evt)
	require.True(t, ok)
	assert.Equal(t, "root1", parent)
}

func TestParentKeyHighlight(t *testing.T) {
	evt := types.Event{Kind: KindHighlight, Tags: [][]string{
		{"e", "other", "", "mention"},
		{"a", "30023:pk:article"},
	}}
	parent, ok := ParentKey(evt)
	require.True(t, ok)
	assert.Equal(t, "30023:pk:article", parent)
}

func TestParentKeyComment(t *testing.T) {
	evt := types.Event{Kind: KindComment, Tags: [][]string{
		{"A", "30023:pk:article"},
		{"e", "parentComment"},
		{"K", "30023"},
	}}
	parent, ok := ParentKey(evt)
	require.True(t, ok)
	assert.Equal(t, "parentComment", parent)

	top := types.Event{Kind: KindComment, Tags: [][]string{{"A", "30023:pk:article"}}}
	parent, ok = ParentKey(top)
	require.True(t, ok)
	assert.Equal(t, "30023:pk:article", parent)
}

func TestParentKeyUnresolvable(t *testing.T) {
	cases := []types.Event{
		{Kind: KindTextNote},
		{Kind: KindTextNote, Tags: [][]string{{"p", "pk"}, {"t", "nostr"}}},
		{Kind: KindTextNote, Tags: [][]string{{"e"}, {"e", ""}}},
		{Kind: KindTextNote, Tags: [][]string{{"q", "quoted"}}},
		{Kind: KindHighlight, Tags: [][]string{{"r", "https://example.com"}}},
	}
	for _, evt := range cases {
		_, ok := ParentKey(evt)
		assert.False(t, ok, "tags %v", evt.Tags)
	}
}

func TestRelationKindString(t *testing.T) {
	assert.Equal(t, "parent", RelationParent.String())
	assert.Equal(t, "source", RelationSource.String())
	assert.Equal(t, "unknown", RelationKind(42).String())
}
