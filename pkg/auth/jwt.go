// Package auth owns the canonical session identity: JWT mint/verify for the
// HTTP surface and one-time tickets for the WebSocket handshake. The
// sessionId inside the JWT is the only identity the rest of the system
// trusts for ownership checks.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dineseek/dineseek/pkg/models"
)

const (
	tokenIssuer   = "dineseek"
	tokenAudience = "dineseek-client"
)

var (
	// ErrTokenInvalid covers every verification failure: bad signature,
	// wrong algorithm, expired, malformed claims.
	ErrTokenInvalid = errors.New("token invalid")

	// ErrTicketInvalid covers missing, expired, malformed and already-used
	// tickets. Callers must not distinguish these cases to clients.
	ErrTicketInvalid = errors.New("ticket invalid")
)

// Verifier mints and verifies HS256 session tokens.
type Verifier struct {
	secret []byte
	ttl    time.Duration

	// now is a test hook.
	now func() time.Time
}

// NewVerifier creates a Verifier with the given signing secret and token
// lifetime.
func NewVerifier(secret string, ttl time.Duration) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// MintToken issues a signed session token for the identity.
func (v *Verifier) MintToken(identity models.SessionIdentity) (string, error) {
	now := v.now()
	claims := jwt.MapClaims{
		"sessionId": identity.SessionID,
		"iss":       tokenIssuer,
		"aud":       tokenAudience,
		"iat":       now.Unix(),
		"exp":       now.Add(v.ttl).Unix(),
	}
	if identity.UserID != "" {
		claims["userId"] = identity.UserID
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// VerifyToken validates signature, algorithm, issuer, audience and expiry,
// and extracts the session identity.
func (v *Verifier) VerifyToken(raw string) (models.SessionIdentity, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		// Reject algorithm-confusion attempts before touching the secret.
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(tokenAudience),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return models.SessionIdentity{}, ErrTokenInvalid
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return models.SessionIdentity{}, ErrTokenInvalid
	}
	sessionID, _ := claims["sessionId"].(string)
	if sessionID == "" {
		return models.SessionIdentity{}, ErrTokenInvalid
	}
	userID, _ := claims["userId"].(string)

	return models.SessionIdentity{SessionID: sessionID, UserID: userID}, nil
}
