package pool

import (
	"context"
	"errors"
	"slices"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"nostr-feed/internal/timeline"
	"nostr-feed/internal/types"
)

// Subscribe opens a subscription for filter on relayURL
func (p *Pool) Subscribe(ctx context.Context, relayURL string, filter types.Filter) (*Subscription, error) {
	const maxRetries = 3

	for attempt := 0; attempt < maxRetries; attempt++ {
		c, err := p.EnsureConnection(ctx, relayURL)
		if err != nil {
			return nil, err
		}

		sub := c.addSubscription(uuid.NewString())
		if sub == nil {
			// Connection died between lookup and registration; the next attempt redials
			continue
		}

		if err := c.WriteJSON([]interface{}{"REQ", sub.ID, filter.ToMap()}); err != nil {
			c.removeSubscription(sub.ID)
			sub.Close()
			c.markClosed()
			return nil, err
		}
		return sub, nil
	}
	return nil, errors.New("pool: failed to establish connection after retries")
}

// Unsubscribe closes a subscription and tells the relay, best effort
func (p *Pool) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	if c := sub.conn; c != nil && c.removeSubscription(sub.ID) {
		if err := c.WriteJSON([]interface{}{"CLOSE", sub.ID}); err != nil {
			p.log.Debug("pool: CLOSE failed", "relay", c.url, "sub", sub.ID, "error", err)
		}
	}
	sub.Close()
}

// Query subscribes to filter on every relay and collects events until each relay
// sends EOSE or ctx ends. Results are per relay, in relays order, each sorted
// newest first; relays that fail contribute an empty slice.
func (p *Pool) Query(ctx context.Context, relays []string, filter types.Filter) [][]types.Event {
	results := make([][]types.Event, len(relays))

	var g errgroup.Group
	if p.cfg.MaxConcurrentQueries > 0 {
		g.SetLimit(p.cfg.MaxConcurrentQueries)
	}
	for i, relay := range relays {
		i, relay := i, relay
		g.Go(func() error {
			events, err := p.queryRelay(ctx, relay, filter)
			if err != nil {
				p.log.Debug("pool: query failed", "relay", relay, "error", err)
			}
			results[i] = events
			return nil
		})
	}
	g.Wait()
	return results
}

func (p *Pool) queryRelay(ctx context.Context, relayURL string, filter types.Filter) ([]types.Event, error) {
	sub, err := p.Subscribe(ctx, relayURL, filter)
	if err != nil {
		return nil, err
	}
	defer p.Unsubscribe(sub)

	var events []types.Event
collect:
	for {
		select {
		case evt := <-sub.Events:
			events = append(events, evt)
		case <-sub.EOSE:
			break collect
		case <-sub.Done:
			break collect
		case <-ctx.Done():
			break collect
		}
	}

	// Events buffered before EOSE are still ours
	for {
		select {
		case evt := <-sub.Events:
			events = append(events, evt)
			continue
		default:
		}
		break
	}

	slices.SortFunc(events, timeline.NewestFirst)
	return events, nil
}
