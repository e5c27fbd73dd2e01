package gateway

import (
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrNotHost is returned when a caller's token does not prove host
// ownership of the session. Only the host may advance phases or clear
// the roster.
var ErrNotHost = errors.New("caller is not the session host")

const hostTokenTTL = 24 * time.Hour

// HostClaims binds a token to one session.
type HostClaims struct {
	SessionID string `json:"session_id"`
	jwt.RegisteredClaims
}

func hostSecret() []byte {
	s := os.Getenv("TRIVIA_JWT_SECRET")
	if s == "" {
		s = "trivia-dev-secret"
	}
	return []byte(s)
}

// SignHostToken mints the host token returned from session creation.
func SignHostToken(sessionID uuid.UUID) (string, error) {
	now := time.Now()
	claims := HostClaims{
		SessionID: sessionID.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "host",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(hostTokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(hostSecret())
}

func parseHostToken(tok string) (*HostClaims, error) {
	t, err := jwt.ParseWithClaims(tok, &HostClaims{}, func(token *jwt.Token) (interface{}, error) {
		return hostSecret(), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if c, ok := t.Claims.(*HostClaims); ok && t.Valid {
		return c, nil
	}
	return nil, errors.New("invalid token")
}

// RequireHost verifies the request's bearer token names the session. The
// session record is single-writer: advancePhase must never be reachable
// by a non-host client.
func RequireHost(r *http.Request, sessionID uuid.UUID) error {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ErrNotHost
	}
	claims, err := parseHostToken(strings.TrimSpace(strings.TrimPrefix(h, "Bearer ")))
	if err != nil {
		return ErrNotHost
	}
	if claims.SessionID != sessionID.String() {
		return ErrNotHost
	}
	return nil
}
