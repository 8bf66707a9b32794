// Package nips decodes and encodes NIP-19 bech32 identifiers (npub, note, nprofile, nevent).
package nips

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const charset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

var generator = [5]int{0x3b6a57b2, 0x26508e6d, 0x1ea119fa, 0x3d4233dd, 0x2a1462b3}

// ErrChecksum is returned for bech32 strings whose checksum does not match
var ErrChecksum = errors.New("nip19: bad checksum")

// TLV types used by nprofile and nevent
const (
	tlvSpecial = 0 // event id for nevent, pubkey for nprofile
	tlvRelay   = 1
	tlvAuthor  = 2
	tlvKind    = 3
)

// EventRef is an event pointer decoded from hex, note1 or nevent1
type EventRef struct {
	ID     string
	Author string
	Relays []string
}

// Decode splits a bech32 string into its prefix and 8-bit payload
func Decode(s string) (string, []byte, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	pos := strings.LastIndexByte(s, '1')
	if pos < 1 || pos+7 > len(s) {
		return "", nil, errors.New("nip19: invalid separator position")
	}
	hrp, data := s[:pos], s[pos+1:]

	values := make([]int, 0, len(data))
	for _, c := range data {
		idx := strings.IndexRune(charset, c)
		if idx < 0 {
			return "", nil, fmt.Errorf("nip19: invalid character %q", c)
		}
		values = append(values, idx)
	}
	if polymod(append(expandHRP(hrp), values...)) != 1 {
		return "", nil, ErrChecksum
	}

	payload, err := regroup(values[:len(values)-6], 5, 8, false)
	if err != nil {
		return "", nil, err
	}
	return hrp, payload, nil
}

// Encode builds a bech32 string for payload under hrp
func Encode(hrp string, payload []byte) (string, error) {
	wide := make([]int, len(payload))
	for i, b := range payload {
		wide[i] = int(b)
	}
	values, err := regroup(wide, 8, 5, true)
	if err != nil {
		return "", err
	}
	words := make([]int, len(values))
	for i, v := range values {
		words[i] = int(v)
	}

	mod := polymod(append(append(expandHRP(hrp), words...), 0, 0, 0, 0, 0, 0)) ^ 1
	var b strings.Builder
	b.WriteString(hrp)
	b.WriteByte('1')
	for _, w := range words {
		b.WriteByte(charset[w])
	}
	for i := 0; i < 6; i++ {
		b.WriteByte(charset[(mod>>(5*(5-i)))&31])
	}
	return b.String(), nil
}

func polymod(values []int) int {
	chk := 1
	for _, v := range values {
		top := chk >> 25
		chk = (chk&0x1ffffff)<<5 ^ v
		for i, g := range generator {
			if (top>>i)&1 != 0 {
				chk ^= g
			}
		}
	}
	return chk
}

func expandHRP(hrp string) []int {
	out := make([]int, 0, len(hrp)*2+1)
	for _, c := range hrp {
		out = append(out, int(c>>5))
	}
	out = append(out, 0)
	for _, c := range hrp {
		out = append(out, int(c&31))
	}
	return out
}

// regroup converts between bit group sizes
func regroup(data []int, from, to uint, pad bool) ([]byte, error) {
	acc, bits := 0, uint(0)
	maxv := (1 << to) - 1
	var out []byte
	for _, v := range data {
		acc = acc<<from | v
		bits += from
		for bits >= to {
			bits -= to
			out = append(out, byte((acc>>bits)&maxv))
		}
	}
	if pad {
		if bits > 0 {
			out = append(out, byte((acc<<(to-bits))&maxv))
		}
	} else if bits >= from || (acc<<(to-bits))&maxv != 0 {
		return nil, errors.New("nip19: invalid padding")
	}
	return out, nil
}

// EncodePubkey encodes a hex pubkey as npub
func EncodePubkey(hexPubkey string) (string, error) {
	return encode32("npub", hexPubkey)
}

// EncodeEventID encodes a hex event ID as note
func EncodeEventID(hexID string) (string, error) {
	return encode32("note", hexID)
}

// EncodeEvent encodes an event pointer as nevent
func EncodeEvent(ref EventRef) (string, error) {
	id, err := decode32(ref.ID)
	if err != nil {
		return "", err
	}
	tlv := appendTLV(nil, tlvSpecial, id)
	for _, r := range ref.Relays {
		tlv = appendTLV(tlv, tlvRelay, []byte(r))
	}
	if ref.Author != "" {
		author, err := decode32(ref.Author)
		if err != nil {
			return "", err
		}
		tlv = appendTLV(tlv, tlvAuthor, author)
	}
	return Encode("nevent", tlv)
}

func encode32(hrp, hexValue string) (string, error) {
	raw, err := decode32(hexValue)
	if err != nil {
		return "", err
	}
	return Encode(hrp, raw)
}

func decode32(hexValue string) ([]byte, error) {
	raw, err := hex.DecodeString(hexValue)
	if err != nil {
		return nil, err
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("nip19: want 32 bytes, got %d", len(raw))
	}
	return raw, nil
}

func appendTLV(out []byte, typ byte, value []byte) []byte {
	out = append(out, typ, byte(len(value)))
	return append(out, value...)
}

// walkTLV calls fn for every entry of a TLV payload
func walkTLV(data []byte, fn func(typ byte, value []byte)) error {
	for i := 0; i < len(data); {
		if i+2 > len(data) {
			return errors.New("nip19: truncated TLV")
		}
		typ, length := data[i], int(data[i+1])
		i += 2
		if i+length > len(data) {
			return errors.New("nip19: truncated TLV value")
		}
		fn(typ, data[i:i+length])
		i += length
	}
	return nil
}

// ParsePubkey accepts a hex pubkey, npub or nprofile and returns lowercase hex
func ParsePubkey(s string) (string, error) {
	s = strings.TrimSpace(s)
	if isHex32(s) {
		return strings.ToLower(s), nil
	}
	hrp, payload, err := Decode(s)
	if err != nil {
		return "", err
	}
	switch hrp {
	case "npub":
		if len(payload) != 32 {
			return "", errors.New("nip19: invalid npub length")
		}
		return hex.EncodeToString(payload), nil
	case "nprofile":
		var pubkey string
		err := walkTLV(payload, func(typ byte, value []byte) {
			if typ == tlvSpecial && len(value) == 32 {
				pubkey = hex.EncodeToString(value)
			}
		})
		if err != nil {
			return "", err
		}
		if pubkey == "" {
			return "", errors.New("nip19: nprofile without pubkey")
		}
		return pubkey, nil
	default:
		return "", fmt.Errorf("nip19: %s is not a pubkey", hrp)
	}
}

// ParseEventRef accepts a hex event ID, note or nevent
func ParseEventRef(s string) (EventRef, error) {
	s = strings.TrimSpace(s)
	if isHex32(s) {
		return EventRef{ID: strings.ToLower(s)}, nil
	}
	hrp, payload, err := Decode(s)
	if err != nil {
		return EventRef{}, err
	}
	switch hrp {
	case "note":
		if len(payload) != 32 {
			return EventRef{}, errors.New("nip19: invalid note length")
		}
		return EventRef{ID: hex.EncodeToString(payload)}, nil
	case "nevent":
		var ref EventRef
		err := walkTLV(payload, func(typ byte, value []byte) {
			switch typ {
			case tlvSpecial:
				if len(value) == 32 {
					ref.ID = hex.EncodeToString(value)
				}
			case tlvRelay:
				ref.Relays = append(ref.Relays, string(value))
			case tlvAuthor:
				if len(value) == 32 {
					ref.Author = hex.EncodeToString(value)
				}
			}
		})
		if err != nil {
			return EventRef{}, err
		}
		if ref.ID == "" {
			return EventRef{}, errors.New("nip19: nevent without event id")
		}
		return ref, nil
	default:
		return EventRef{}, fmt.Errorf("nip19: %s is not an event reference", hrp)
	}
}

func isHex32(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
