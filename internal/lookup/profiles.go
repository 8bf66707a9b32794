package lookup

import (
	"context"
	"encoding/json"
	"fmt"

	"nostr-feed/internal/loader"
	"nostr-feed/internal/nostr"
	"nostr-feed/internal/timeline"
	"nostr-feed/internal/types"
)

// Profiles loads kind-0 metadata by pubkey
type Profiles struct {
	*loader.Revalidating[string, *types.ProfileInfo]

	querier EventQuerier
	relays  []string
	cfg     Config
}

// NewProfiles creates a profile lookup querying relays through q
func NewProfiles(q EventQuerier, relays []string, store loader.Store[string, *types.ProfileInfo], cfg Config, lc loader.Config, opts ...loader.Option) *Profiles {
	p := &Profiles{querier: q, relays: relays, cfg: cfg}
	p.Revalidating = loader.NewRevalidating("profiles", store, p.fetch, lc, opts...)
	return p
}

// fetch issues one kind-0 query for all pubkeys and keeps the newest profile per author
func (p *Profiles) fetch(ctx context.Context, pubkeys []string) ([]loader.Result[*types.ProfileInfo], error) {
	if p.cfg.ProfileTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.ProfileTimeout)
		defer cancel()
	}

	filter := types.Filter{
		Authors: pubkeys,
		Kinds:   []int{nostr.KindProfile},
		Limit:   len(pubkeys),
	}
	// Merging collapses each author's profile versions to the newest one
	events := timeline.Merge(p.querier.Query(ctx, p.relays, filter))

	profiles := make(map[string]*types.ProfileInfo, len(pubkeys))
	for _, evt := range events {
		if evt.Kind != nostr.KindProfile {
			continue
		}
		if _, ok := profiles[evt.PubKey]; ok {
			continue
		}
		profile, err := ParseProfile(evt)
		if err != nil {
			continue
		}
		profiles[evt.PubKey] = profile
	}

	results := make([]loader.Result[*types.ProfileInfo], len(pubkeys))
	for i, pk := range pubkeys {
		if profile, ok := profiles[pk]; ok {
			results[i] = loader.Found(profile)
		} else {
			results[i] = loader.Failed[*types.ProfileInfo](fmt.Errorf("%w: profile %s", loader.ErrNotFound, nostr.ShortID(pk)))
		}
	}
	return results, nil
}

// ParseProfile decodes the content of a kind-0 event
func ParseProfile(evt types.Event) (*types.ProfileInfo, error) {
	if evt.Kind != nostr.KindProfile {
		return nil, fmt.Errorf("kind %d is not a profile", evt.Kind)
	}
	profile := &types.ProfileInfo{}
	if err := json.Unmarshal([]byte(evt.Content), profile); err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", nostr.ShortID(evt.ID), err)
	}
	profile.UpdatedAt = evt.CreatedAt
	return profile, nil
}
