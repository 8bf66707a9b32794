// Package lookup provides the batched auxiliary lookups a feed needs next to its
// events: profiles by pubkey, NIP-11 documents by relay, and reputation scores.
// Each is a stale-while-revalidate loader over a durable store.
package lookup

import (
	"context"
	"net/http"
	"time"

	"nostr-feed/internal/types"
)

// Config tunes the lookups
type Config struct {
	ProfileTimeout       time.Duration `yaml:"profile_timeout"`        // how long a profile batch waits for relays
	HTTPTimeout          time.Duration `yaml:"http_timeout"`           // per request, NIP-11 and reputation
	RelayInfoRate        float64       `yaml:"relay_info_rate"`        // NIP-11 requests per second
	RelayInfoBurst       int           `yaml:"relay_info_burst"`       // NIP-11 burst size
	RelayInfoConcurrency int           `yaml:"relay_info_concurrency"` // parallel NIP-11 requests per batch
	ReputationURL        string        `yaml:"reputation_url"`         // empty disables reputation lookups
}

// DefaultConfig returns the lookup defaults
func DefaultConfig() Config {
	return Config{
		ProfileTimeout:       2500 * time.Millisecond, // balance between speed and completeness
		HTTPTimeout:          5 * time.Second,
		RelayInfoRate:        10,
		RelayInfoBurst:       5,
		RelayInfoConcurrency: 4,
	}
}

// EventQuerier runs one filter against several relays. *pool.Pool satisfies it.
type EventQuerier interface {
	Query(ctx context.Context, relays []string, filter types.Filter) [][]types.Event
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 3 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}
