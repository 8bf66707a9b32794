package types

// RelayInfo is the NIP-11 relay information document
type RelayInfo struct {
	Name          string       `json:"name,omitempty"`
	Description   string       `json:"description,omitempty"`
	Pubkey        string       `json:"pubkey,omitempty"`
	Contact       string       `json:"contact,omitempty"`
	Software      string       `json:"software,omitempty"`
	Version       string       `json:"version,omitempty"`
	SupportedNIPs []int        `json:"supported_nips,omitempty"`
	Limitation    *RelayLimits `json:"limitation,omitempty"`
}

// RelayLimits is the "limitation" object of a NIP-11 document
type RelayLimits struct {
	MaxMessageLength int  `json:"max_message_length,omitempty"`
	MaxSubscriptions int  `json:"max_subscriptions,omitempty"`
	MaxLimit         int  `json:"max_limit,omitempty"`
	AuthRequired     bool `json:"auth_required,omitempty"`
	PaymentRequired  bool `json:"payment_required,omitempty"`
}

// SupportsNIP reports whether the relay advertises the given NIP
func (r *RelayInfo) SupportsNIP(nip int) bool {
	if r == nil {
		return false
	}
	for _, n := range r.SupportedNIPs {
		if n == nip {
			return true
		}
	}
	return false
}
