package jwt

import "github.com/golang-jwt/jwt"

// Payload defines the JWT claims accepted by the chat server. Tokens are issued by the
// organisation's authentication provider; the server only verifies them.
type Payload struct {
	// StandardClaims carries exp, iat, iss and sub. Subject is the user id known to the
	// directory.
	jwt.StandardClaims

	// Role is informational; the directory remains the source of truth for roles.
	Role string `json:"role,omitempty"`
}

// UserID returns the authenticated user's id.
func (p *Payload) UserID() string {
	return p.Subject
}
