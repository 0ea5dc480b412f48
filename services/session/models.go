package session

import "time"

// Metadata captures where a session was established from. Stored alongside
// the refresh JTI with the same TTL so it never outlives the session.
type Metadata struct {
	IPAddress string
	UserAgent string
}

// SessionInfo is one live session as reported by the sessions listing.
type SessionInfo struct {
	JTI       string    `json:"jti"`
	ExpiresAt time.Time `json:"expires_at"`
	Browser   string    `json:"browser,omitempty"`
	OS        string    `json:"os,omitempty"`
	Device    string    `json:"device,omitempty"`
	IPAddress string    `json:"ip_address,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
