package types

// ProfileInfo contains user profile metadata (kind 0)
type ProfileInfo struct {
	Name        string `json:"name,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Picture     string `json:"picture,omitempty"`
	Nip05       string `json:"nip05,omitempty"`
	About       string `json:"about,omitempty"`
	Banner      string `json:"banner,omitempty"`
	Lud16       string `json:"lud16,omitempty"`
	Website     string `json:"website,omitempty"`

	// Set by the loader, not by the profile content
	UpdatedAt int64 `json:"updated_at,omitempty"`
}

// Reputation is a trust score for a pubkey served by a scoring endpoint
type Reputation struct {
	Pubkey string  `json:"pubkey"`
	Score  float64 `json:"score"`
}
