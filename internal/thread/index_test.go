package thread

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nostr-feed/internal/nostr"
	"nostr-feed/internal/types"
)

func reply(id, parent string) types.Event {
	return types.Event{ID: id, PubKey: "pk", Kind: nostr.KindTextNote, Tags: [][]string{{"e", parent, "", "reply"}}}
}

func childIDs(events []types.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}

func TestAddEventsIsIdempotent(t *testing.T) {
	idx := NewIndex()
	r1 := reply("r1", "p1")

	idx.AddEvents([]types.Event{r1})
	idx.AddEvents([]types.Event{r1})

	assert.Equal(t, []string{"r1"}, childIDs(idx.Get("p1")))
	assert.Equal(t, uint64(1), idx.Generation(), "second batch changed nothing")
}

func TestAddEventsDuplicateWithinBatch(t *testing.T) {
	idx := NewIndex()
	idx.AddEvents([]types.Event{reply("r1", "p1"), reply("r2", "p1"), reply("r1", "p1")})
	assert.Equal(t, []string{"r1", "r2"}, childIDs(idx.Get("p1")))
	assert.Equal(t, 2, idx.Count("p1"))
}

func TestAddEventsPreservesArrivalOrderAcrossBatches(t *testing.T) {
	idx := NewIndex()
	idx.AddEvents([]types.Event{reply("c", "p1"), reply("x", "p2")})
	idx.AddEvents([]types.Event{reply("a", "p1"), reply("b", "p1")})

	assert.Equal(t, []string{"c", "a", "b"}, childIDs(idx.Get("p1")))
	assert.Equal(t, []string{"x"}, childIDs(idx.Get("p2")))
	assert.Equal(t, 2, idx.Len())
}

func TestAddEventsSkipsParentless(t *testing.T) {
	idx := NewIndex()
	root := types.Event{ID: "root", PubKey: "pk", Kind: nostr.KindTextNote}
	idx.AddEvents([]types.Event{root, {ID: "m", PubKey: "pk", Kind: 1, Tags: [][]string{{"e", "", "", "reply"}}}})

	assert.Equal(t, 0, idx.Len())
	assert.Equal(t, uint64(0), idx.Generation())
	assert.Nil(t, idx.Get(""))
}

func TestAddEventsHighlightSource(t *testing.T) {
	idx := NewIndex()
	hl := types.Event{ID: "h1", PubKey: "pk", Kind: nostr.KindHighlight, Tags: [][]string{{"a", "30023:author:post"}}}
	idx.AddEvents([]types.Event{hl})
	assert.Equal(t, []string{"h1"}, childIDs(idx.Get("30023:author:post")))
}

func TestSnapshotsAreImmutable(t *testing.T) {
	idx := NewIndex()
	idx.AddEvents([]types.Event{reply("r1", "p1")})
	before := idx.Snapshot()
	held := idx.Get("p1")

	idx.AddEvents([]types.Event{reply("r2", "p1"), reply("r3", "p9")})

	assert.Equal(t, []string{"r1"}, childIDs(before.Buckets["p1"]))
	assert.Equal(t, []string{"r1"}, childIDs(held))
	_, ok := before.Buckets["p9"]
	assert.False(t, ok)
	assert.Equal(t, []string{"r1", "r2"}, childIDs(idx.Get("p1")))
	assert.Equal(t, before.Generation+1, idx.Snapshot().Generation)
}

func TestConcurrentReadersSeeWholeBatches(t *testing.T) {
	idx := NewIndex()
	const batches = 50

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for b := 0; b < batches; b++ {
			// every batch adds a pair of children, so a reader should never see an odd count
			idx.AddEvents([]types.Event{
				reply(fmt.Sprintf("a%d", b), "p"),
				reply(fmt.Sprintf("b%d", b), "p"),
			})
		}
	}()

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < 500; n++ {
				assert.Equal(t, 0, idx.Count("p")%2)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 2*batches, idx.Count("p"))
}

func TestWalk(t *testing.T) {
	idx := NewIndex()
	idx.AddEvents([]types.Event{
		reply("b", "a"),
		reply("c", "b"),
		reply("d", "a"),
	})

	var visited []string
	idx.Walk("a", func(evt types.Event, depth int) {
		visited = append(visited, fmt.Sprintf("%s@%d", evt.ID, depth))
	})
	assert.Equal(t, []string{"b@1", "c@2", "d@1"}, visited)
}
