package lookup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"nostr-feed/internal/loader"
	"nostr-feed/internal/nostr"
	"nostr-feed/internal/types"
)

const maxRelayInfoSize = 64 << 10

// RelayInfo loads NIP-11 documents keyed by normalized relay URL
type RelayInfo struct {
	*loader.Revalidating[string, *types.RelayInfo]

	client  *http.Client
	limiter *rate.Limiter
	cfg     Config
}

// NewRelayInfo creates a NIP-11 lookup
func NewRelayInfo(store loader.Store[string, *types.RelayInfo], cfg Config, lc loader.Config, opts ...loader.Option) *RelayInfo {
	limit := rate.Inf
	if cfg.RelayInfoRate > 0 {
		limit = rate.Limit(cfg.RelayInfoRate)
	}
	r := &RelayInfo{
		client:  newHTTPClient(cfg.HTTPTimeout),
		limiter: rate.NewLimiter(limit, max(cfg.RelayInfoBurst, 1)),
		cfg:     cfg,
	}
	r.Revalidating = loader.NewRevalidating("relay_info", store, r.fetch, lc, opts...)
	return r
}

// fetch requests each document separately; one slow or broken relay only fails its own key
func (r *RelayInfo) fetch(ctx context.Context, relays []string) ([]loader.Result[*types.RelayInfo], error) {
	results := make([]loader.Result[*types.RelayInfo], len(relays))

	var g errgroup.Group
	if r.cfg.RelayInfoConcurrency > 0 {
		g.SetLimit(r.cfg.RelayInfoConcurrency)
	}
	for i, relay := range relays {
		i, relay := i, relay
		g.Go(func() error {
			info, err := r.fetchOne(ctx, relay)
			if err != nil {
				results[i] = loader.Failed[*types.RelayInfo](err)
			} else {
				results[i] = loader.Found(info)
			}
			return nil
		})
	}
	g.Wait()
	return results, nil
}

func (r *RelayInfo) fetchOne(ctx context.Context, relayURL string) (*types.RelayInfo, error) {
	normalized := nostr.NormalizeRelayURL(relayURL)
	if normalized == "" {
		return nil, fmt.Errorf("invalid relay URL %q", relayURL)
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, nostr.RelayInfoURL(normalized), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/nostr+json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relay info %s: %w", normalized, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("relay info %s: status %d", normalized, resp.StatusCode)
	}

	info := &types.RelayInfo{}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxRelayInfoSize)).Decode(info); err != nil {
		return nil, fmt.Errorf("relay info %s: %w", normalized, err)
	}
	return info, nil
}
