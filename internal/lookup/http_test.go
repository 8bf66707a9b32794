package lookup

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nostr-feed/internal/cache"
	"nostr-feed/internal/types"
)

func TestRelayInfoPerKeyIsolation(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("Accept") != "application/nostr+json" {
			http.Error(w, "bad accept", http.StatusBadRequest)
			return
		}
		switch r.URL.Path {
		case "/good":
			w.Header().Set("Content-Type", "application/nostr+json")
			w.Write([]byte(`{"name":"good relay","supported_nips":[1,11,22],"limitation":{"auth_required":true}}`))
		default:
			http.Error(w, "nope", http.StatusNotFound)
		}
	}))
	defer srv.Close()
	base := "ws" + strings.TrimPrefix(srv.URL, "http")

	store := cache.NewTyped[*types.RelayInfo](cache.NewMemoryCache(10), "nip11:", time.Hour)
	ri := NewRelayInfo(store, DefaultConfig(), testLoader)

	values, found := ri.LoadMany(context.Background(), []string{base + "/good", base + "/missing", "not a url"})
	assert.Equal(t, []bool{true, false, false}, found)
	assert.Equal(t, "good relay", values[0].Name)
	assert.True(t, values[0].SupportsNIP(22))
	assert.True(t, values[0].Limitation.AuthRequired)
	assert.Equal(t, int32(2), hits.Load(), "invalid URLs never reach the network")
}

func TestReputationBatch(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		var req reputationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		out := make([]map[string]interface{}, len(req.Pubkeys))
		for i, pk := range req.Pubkeys {
			if pk == "spammer" {
				out[i] = map[string]interface{}{"error": "unknown pubkey"}
				continue
			}
			out[i] = map[string]interface{}{"score": float64(len(pk))}
		}
		json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	store := cache.NewTyped[float64](cache.NewMemoryCache(10), "rep:", time.Hour)
	rep := NewReputation(srv.URL, store, DefaultConfig(), testLoader)

	values, found := rep.LoadMany(context.Background(), []string{"alice", "spammer", "bo"})
	assert.Equal(t, []bool{true, false, true}, found)
	assert.Equal(t, 5.0, values[0])
	assert.Equal(t, 2.0, values[2])
	assert.Equal(t, int32(1), requests.Load())
}

func TestReputationMalformedResponseFailsBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"score":1}]`))
	}))
	defer srv.Close()

	store := cache.NewTyped[float64](cache.NewMemoryCache(10), "rep:", time.Hour)
	rep := NewReputation(srv.URL, store, DefaultConfig(), testLoader)

	_, found := rep.LoadMany(context.Background(), []string{"a", "b"})
	assert.Equal(t, []bool{false, false}, found)

	// nothing was persisted for the failed batch
	stored, err := store.GetMultiple(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Empty(t, stored)
}
