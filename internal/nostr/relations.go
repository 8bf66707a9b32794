package nostr

import "nostr-feed/internal/types"

// RelationKind classifies what an event tag points at
type RelationKind int

const (
	RelationUnknown RelationKind = iota
	RelationParent
	RelationRoot
	RelationSource
	RelationMention
)

func (k RelationKind) String() string {
	switch k {
	case RelationParent:
		return "parent"
	case RelationRoot:
		return "root"
	case RelationSource:
		return "source"
	case RelationMention:
		return "mention"
	default:
		return "unknown"
	}
}

// Relation is a parsed reference from one event to another.
// Ref is an event ID for e/E/q tags and a coordinate for a/A tags.
type Relation struct {
	Kind   RelationKind
	Tag    string
	Ref    string
	Relay  string
	Marker string
}

// ParseRelations parses the relation tags of an event once, so consumers never
// re-inspect raw tag arrays. Tags that carry no resolvable reference are dropped.
//
//   - comments (NIP-22): E/A are the root scope, e/a the direct parent
//   - highlights (NIP-84): e/a are the highlighted source
//   - everything else (NIP-10): marked e/a tags; unmarked e-tags are positional
func ParseRelations(evt types.Event) []Relation {
	switch evt.Kind {
	case KindComment:
		return parseCommentRelations(evt.Tags)
	case KindHighlight:
		return parseHighlightRelations(evt.Tags)
	default:
		return parseReplyRelations(evt.Tags)
	}
}

// ParentKey resolves the key of the event this one belongs under.
// Highlights belong to their source; replies to their parent, falling back to the
// root for replies that only carry a root marker (direct replies to the root).
func ParentKey(evt types.Event) (string, bool) {
	rels := ParseRelations(evt)
	if evt.Kind == KindHighlight {
		return firstRef(rels, RelationSource)
	}
	if ref, ok := firstRef(rels, RelationParent); ok {
		return ref, true
	}
	return firstRef(rels, RelationRoot)
}

// RootKey resolves the thread root of an event, if it has one.
func RootKey(evt types.Event) (string, bool) {
	return firstRef(ParseRelations(evt), RelationRoot)
}

func firstRef(rels []Relation, kind RelationKind) (string, bool) {
	for _, r := range rels {
		if r.Kind == kind {
			return r.Ref, true
		}
	}
	return "", false
}

func newRelation(kind RelationKind, tag []string) Relation {
	r := Relation{Kind: kind, Tag: tag[0], Ref: tag[1]}
	if len(tag) >= 3 {
		r.Relay = tag[2]
	}
	if len(tag) >= 4 {
		r.Marker = tag[3]
	}
	return r
}

func isReference(tag []string) bool {
	return len(tag) >= 2 && tag[1] != ""
}

func parseCommentRelations(tags [][]string) []Relation {
	var rels []Relation
	for _, tag := range tags {
		if !isReference(tag) {
			continue
		}
		switch tag[0] {
		case "E", "A":
			rels = append(rels, newRelation(RelationRoot, tag))
		case "e", "a":
			rels = append(rels, newRelation(RelationParent, tag))
		case "q":
			rels = append(rels, newRelation(RelationMention, tag))
		}
	}
	return rels
}

func parseHighlightRelations(tags [][]string) []Relation {
	var rels []Relation
	for _, tag := range tags {
		if !isReference(tag) {
			continue
		}
		switch tag[0] {
		case "e", "a":
			r := newRelation(RelationSource, tag)
			if r.Marker == "mention" {
				r.Kind = RelationMention
			}
			rels = append(rels, r)
		case "q":
			rels = append(rels, newRelation(RelationMention, tag))
		}
	}
	return rels
}

func parseReplyRelations(tags [][]string) []Relation {
	// Positional e-tags are only honoured when no e-tag carries a root/reply marker
	marked := false
	var unmarked int
	for _, tag := range tags {
		if !isReference(tag) || tag[0] != "e" {
			continue
		}
		if len(tag) >= 4 && (tag[3] == "root" || tag[3] == "reply") {
			marked = true
		} else if len(tag) < 4 || tag[3] == "" {
			unmarked++
		}
	}

	var rels []Relation
	position := 0
	for _, tag := range tags {
		if !isReference(tag) {
			continue
		}
		switch tag[0] {
		case "e", "a":
			r := newRelation(RelationMention, tag)
			switch r.Marker {
			case "root":
				r.Kind = RelationRoot
			case "reply":
				r.Kind = RelationParent
			case "":
				if tag[0] == "e" && !marked {
					rels = append(rels, positional(tag, position, unmarked)...)
					position++
					continue
				}
			}
			rels = append(rels, r)
		case "q":
			rels = append(rels, newRelation(RelationMention, tag))
		}
	}
	return rels
}

// positional applies the deprecated NIP-10 scheme: a single e-tag is both root
// and parent, otherwise the first is the root and the last the parent.
func positional(tag []string, position, total int) []Relation {
	switch {
	case total == 1:
		return []Relation{newRelation(RelationRoot, tag), newRelation(RelationParent, tag)}
	case position == 0:
		return []Relation{newRelation(RelationRoot, tag)}
	case position == total-1:
		return []Relation{newRelation(RelationParent, tag)}
	default:
		return []Relation{newRelation(RelationMention, tag)}
	}
}
