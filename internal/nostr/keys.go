package nostr

import (
	"strconv"

	"nostr-feed/internal/types"
	"nostr-feed/internal/util"
)

// Event kinds with special relation or identity handling
const (
	KindProfile   = 0
	KindTextNote  = 1
	KindContacts  = 3
	KindComment   = 1111
	KindHighlight = 9802
)

// IsReplaceable reports whether only the latest event per (kind, pubkey) is kept (NIP-01)
func IsReplaceable(kind int) bool {
	return kind == KindProfile || kind == KindContacts || (kind >= 10000 && kind < 20000)
}

// IsAddressable reports whether only the latest event per (kind, pubkey, d) is kept (NIP-01)
func IsAddressable(kind int) bool {
	return kind >= 30000 && kind < 40000
}

// Coordinate builds the "<kind>:<pubkey>:<d>" address used by a-tags
func Coordinate(kind int, pubkey, d string) string {
	return strconv.Itoa(kind) + ":" + pubkey + ":" + d
}

// Key returns the deduplication identity of an event.
// Regular events are identified by ID; replaceable and addressable events by their coordinate,
// so two versions of the same profile or article collapse to one logical item.
func Key(evt types.Event) string {
	switch {
	case IsReplaceable(evt.Kind):
		return Coordinate(evt.Kind, evt.PubKey, "")
	case IsAddressable(evt.Kind):
		return Coordinate(evt.Kind, evt.PubKey, util.GetTagValue(evt.Tags, "d"))
	default:
		return evt.ID
	}
}

// ShortID truncates ID/pubkey to 12 chars for logging
func ShortID(id string) string {
	if len(id) >= 12 {
		return id[:12]
	}
	return id
}
