package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v4"
)

// maxSecretHistory bounds how many previously-active secrets an
// Authenticator keeps around, so a rotation doesn't instantly invalidate
// tokens issued moments before it.
const maxSecretHistory = 3

// Authenticator verifies the bearer token on inbound requests. It is an
// interface so tests can swap in a no-op implementation.
type Authenticator interface {
	Authenticate(r *http.Request) error
	RotateSecret(newSecret []byte)
}

var errMissingBearer = errors.New("api: missing bearer token")
var errInvalidToken = errors.New("api: invalid or expired token")

// jwtAuthenticator validates HS256 bearer tokens against the current
// secret and a short trailing history of previously-active secrets.
type jwtAuthenticator struct {
	mu      sync.RWMutex
	secrets [][]byte // secrets[0] is current, rest are the rotation history
}

func NewJWTAuthenticator(secret []byte) Authenticator {
	return &jwtAuthenticator{secrets: [][]byte{secret}}
}

func (a *jwtAuthenticator) RotateSecret(newSecret []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.secrets = append([][]byte{newSecret}, a.secrets...)
	if len(a.secrets) > maxSecretHistory+1 {
		a.secrets = a.secrets[:maxSecretHistory+1]
	}
}

func (a *jwtAuthenticator) Authenticate(r *http.Request) error {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return errMissingBearer
	}
	raw := strings.TrimPrefix(header, prefix)

	a.mu.RLock()
	secrets := make([][]byte, len(a.secrets))
	copy(secrets, a.secrets)
	a.mu.RUnlock()

	var lastErr error
	for _, secret := range secrets {
		token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("api: unexpected signing method %v", t.Header["alg"])
			}
			return secret, nil
		})
		if err == nil && token.Valid {
			return nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errInvalidToken
	}
	return errInvalidToken
}

// noopAuthenticator accepts every request; used when no JWT secret is
// configured, matching a local/dev deployment.
type noopAuthenticator struct{}

func (noopAuthenticator) Authenticate(*http.Request) error { return nil }
func (noopAuthenticator) RotateSecret([]byte)               {}
