package models

// SessionIdentity is the canonical caller identity derived from a verified
// JWT. It is the only identity the core trusts: the sessionId carried on a
// WebSocket ticket, on job creation, and on subscribe must all be equal for
// access to succeed.
type SessionIdentity struct {
	SessionID string `json:"sessionId"`
	// UserID is empty for anonymous sessions.
	UserID string `json:"userId,omitempty"`
}

// Anonymous reports whether the session has no associated user.
func (s SessionIdentity) Anonymous() bool {
	return s.UserID == ""
}
