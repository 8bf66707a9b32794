// Package relaytest runs an in-process relay for tests.
package relaytest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"

	"nostr-feed/internal/types"
)

// Relay is a minimal relay: it answers REQ with matching stored events then EOSE.
// Filters match on ids, authors, kinds and #e. Plain HTTP requests asking for
// application/nostr+json get the document set with SetInfo. Matches are sent
// newest first, so limit keeps the most recent events.
type Relay struct {
	URL string

	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu          sync.Mutex
	events      []types.Event
	conns       map[*websocket.Conn]struct{}
	connections int
	reqs        int
	closes      []string
	refuse      string // when set, every REQ is answered with CLOSED and this reason
	info        types.RelayInfo
}

// New starts a relay holding events; it is shut down when the test ends
func New(t testing.TB, events ...types.Event) *Relay {
	t.Helper()
	r := &Relay{
		events: events,
		conns:  make(map[*websocket.Conn]struct{}),
	}
	r.srv = httptest.NewServer(http.HandlerFunc(r.serve))
	r.URL = "ws" + strings.TrimPrefix(r.srv.URL, "http")
	t.Cleanup(r.Close)
	return r
}

// Publish adds events to the relay
func (r *Relay) Publish(events ...types.Event) {
	r.mu.Lock()
	r.events = append(r.events, events...)
	r.mu.Unlock()
}

// SetInfo sets the NIP-11 document
func (r *Relay) SetInfo(info types.RelayInfo) {
	r.mu.Lock()
	r.info = info
	r.mu.Unlock()
}

// Refuse makes the relay answer every REQ with CLOSED
func (r *Relay) Refuse(reason string) {
	r.mu.Lock()
	r.refuse = reason
	r.mu.Unlock()
}

// Connections returns how many websocket connections were accepted
func (r *Relay) Connections() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connections
}

// Requests returns how many REQ messages were received
func (r *Relay) Requests() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reqs
}

// Closes returns the subscription IDs the client sent CLOSE for
func (r *Relay) Closes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.closes)
}

// Close drops client connections and stops the server
func (r *Relay) Close() {
	r.mu.Lock()
	for c := range r.conns {
		c.Close()
	}
	r.mu.Unlock()
	r.srv.Close()
}

func (r *Relay) serve(w http.ResponseWriter, req *http.Request) {
	if req.Header.Get("Accept") == "application/nostr+json" {
		r.mu.Lock()
		info := r.info
		r.mu.Unlock()
		w.Header().Set("Content-Type", "application/nostr+json")
		json.NewEncoder(w).Encode(info)
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	r.mu.Lock()
	r.conns[conn] = struct{}{}
	r.connections++
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.conns, conn)
		r.mu.Unlock()
		conn.Close()
	}()

	for {
		var msg []interface{}
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if len(msg) < 2 {
			continue
		}
		kind, _ := msg[0].(string)
		subID, _ := msg[1].(string)

		switch kind {
		case "REQ":
			var filter map[string]interface{}
			if len(msg) >= 3 {
				filter, _ = msg[2].(map[string]interface{})
			}
			if err := r.answer(conn, subID, filter); err != nil {
				return
			}
		case "CLOSE":
			r.mu.Lock()
			r.closes = append(r.closes, subID)
			r.mu.Unlock()
		}
	}
}

func (r *Relay) answer(conn *websocket.Conn, subID string, filter map[string]interface{}) error {
	r.mu.Lock()
	r.reqs++
	refuse := r.refuse
	var matched []types.Event
	for _, evt := range r.events {
		if matches(filter, evt) {
			matched = append(matched, evt)
		}
	}
	r.mu.Unlock()

	if refuse != "" {
		return conn.WriteJSON([]interface{}{"CLOSED", subID, refuse})
	}
	slices.SortStableFunc(matched, func(a, b types.Event) int { return int(b.CreatedAt - a.CreatedAt) })
	if limit, ok := filter["limit"].(float64); ok && int(limit) < len(matched) {
		matched = matched[:int(limit)]
	}
	for _, evt := range matched {
		if err := conn.WriteJSON([]interface{}{"EVENT", subID, evt}); err != nil {
			return err
		}
	}
	return conn.WriteJSON([]interface{}{"EOSE", subID})
}

func matches(filter map[string]interface{}, evt types.Event) bool {
	if !matchString(filter["ids"], evt.ID) || !matchString(filter["authors"], evt.PubKey) {
		return false
	}
	if refs, ok := filter["#e"].([]interface{}); ok {
		found := false
		for _, ref := range refs {
			id, _ := ref.(string)
			for _, tag := range evt.Tags {
				if len(tag) >= 2 && tag[0] == "e" && tag[1] == id {
					found = true
				}
			}
		}
		if !found {
			return false
		}
	}
	if kinds, ok := filter["kinds"].([]interface{}); ok {
		found := false
		for _, k := range kinds {
			if n, ok := k.(float64); ok && int(n) == evt.Kind {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func matchString(values interface{}, v string) bool {
	list, ok := values.([]interface{})
	if !ok {
		return true
	}
	for _, item := range list {
		if s, _ := item.(string); s == v {
			return true
		}
	}
	return false
}
