package lookup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"nostr-feed/internal/loader"
)

// Reputation loads trust scores by pubkey from a batch scoring endpoint.
//
// The endpoint receives {"pubkeys": [...]} and answers with a list in the same
// order whose entries are {"score": n} or {"error": "..."}.
type Reputation struct {
	*loader.Revalidating[string, float64]

	endpoint string
	client   *http.Client
}

type reputationRequest struct {
	Pubkeys []string `json:"pubkeys"`
}

type reputationEntry struct {
	Score *float64 `json:"score"`
	Error string   `json:"error"`
}

// NewReputation creates a reputation lookup against endpoint
func NewReputation(endpoint string, store loader.Store[string, float64], cfg Config, lc loader.Config, opts ...loader.Option) *Reputation {
	r := &Reputation{
		endpoint: endpoint,
		client:   newHTTPClient(cfg.HTTPTimeout),
	}
	r.Revalidating = loader.NewRevalidating("reputation", store, r.fetch, lc, opts...)
	return r
}

func (r *Reputation) fetch(ctx context.Context, pubkeys []string) ([]loader.Result[float64], error) {
	body, err := json.Marshal(reputationRequest{Pubkeys: pubkeys})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("reputation: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("reputation: status %d", resp.StatusCode)
	}

	var entries []reputationEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("reputation: %w", err)
	}
	if len(entries) != len(pubkeys) {
		return nil, fmt.Errorf("%w: reputation returned %d entries for %d pubkeys", loader.ErrFetchFailure, len(entries), len(pubkeys))
	}

	results := make([]loader.Result[float64], len(entries))
	for i, e := range entries {
		switch {
		case e.Error != "":
			results[i] = loader.Failed[float64](errors.New(e.Error))
		case e.Score == nil:
			results[i] = loader.Failed[float64](loader.ErrNotFound)
		default:
			results[i] = loader.Found(*e.Score)
		}
	}
	return results, nil
}
