// Package auth authenticates API callers.
//
// Authentication model:
// - Service clients present an API key (X-API-Key header)
// - End users present a bearer token verified by a pluggable TokenVerifier
// - Hybrid mode (the default) accepts either
// - Admin endpoints are guarded separately by a shared admin secret
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

var (
	ErrNoCredentials      = errors.New("credentials required")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrForbidden          = errors.New("not authorized for this resource")
)

// Mode controls which credential kinds an Authenticator accepts.
type Mode string

const (
	ModeAPIKey Mode = "api_key"
	ModeBearer Mode = "bearer"
	ModeHybrid Mode = "hybrid"
)

// Identity describes an authenticated caller.
type Identity struct {
	Method    string `json:"method"` // api_key or bearer
	Principal string `json:"principal"`
	Email     string `json:"email"`
	FullName  string `json:"full_name"`
}

// TokenVerifier validates bearer tokens. Deployments plug in their
// identity provider; tests use a static map.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// Authenticator validates API keys and bearer tokens per its mode.
type Authenticator struct {
	mode     Mode
	keys     [][32]byte // sha256 digests of the configured keys
	verifier TokenVerifier
}

// NewAuthenticator creates an authenticator. keys are the raw accepted
// API keys; verifier may be nil when bearer auth is not used.
func NewAuthenticator(mode Mode, keys []string, verifier TokenVerifier) *Authenticator {
	a := &Authenticator{mode: mode, verifier: verifier}
	for _, k := range keys {
		a.keys = append(a.keys, sha256.Sum256([]byte(k)))
	}
	return a
}

// Authenticate resolves an identity from the presented credentials.
// Missing credentials return ErrNoCredentials; present but wrong ones
// return ErrInvalidCredentials.
func (a *Authenticator) Authenticate(ctx context.Context, apiKey, bearerToken string) (*Identity, error) {
	apiKey = strings.TrimSpace(apiKey)
	bearerToken = strings.TrimSpace(bearerToken)

	if a.acceptsAPIKey() && apiKey != "" {
		if a.matchKey(apiKey) {
			fp := Fingerprint(apiKey)
			return &Identity{
				Method:    "api_key",
				Principal: "key_" + fp,
				Email:     "svc-" + fp + "@riskgate.internal",
				FullName:  "Service Client",
			}, nil
		}
		return nil, ErrInvalidCredentials
	}

	if a.acceptsBearer() && bearerToken != "" && a.verifier != nil {
		id, err := a.verifier.Verify(ctx, bearerToken)
		if err != nil {
			return nil, ErrInvalidCredentials
		}
		id.Method = "bearer"
		return id, nil
	}

	return nil, ErrNoCredentials
}

func (a *Authenticator) acceptsAPIKey() bool {
	return a.mode == ModeAPIKey || a.mode == ModeHybrid
}

func (a *Authenticator) acceptsBearer() bool {
	return a.mode == ModeBearer || a.mode == ModeHybrid
}

// matchKey compares digests so the comparison is constant time and
// does not leak key length.
func (a *Authenticator) matchKey(presented string) bool {
	digest := sha256.Sum256([]byte(presented))
	matched := false
	for i := range a.keys {
		if subtle.ConstantTimeCompare(a.keys[i][:], digest[:]) == 1 {
			matched = true
		}
	}
	return matched
}

// Fingerprint returns a short non-reversible identifier for a credential.
func Fingerprint(credential string) string {
	digest := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(digest[:])[:16]
}

// SecretsEqual compares two shared secrets in constant time.
func SecretsEqual(a, b string) bool {
	da := sha256.Sum256([]byte(a))
	db := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(da[:], db[:]) == 1
}

// StaticTokenVerifier verifies tokens against a fixed map. Intended for
// development and tests.
type StaticTokenVerifier struct {
	tokens map[string]Identity
}

// NewStaticTokenVerifier builds a verifier from token -> identity pairs.
func NewStaticTokenVerifier(tokens map[string]Identity) *StaticTokenVerifier {
	return &StaticTokenVerifier{tokens: tokens}
}

func (v *StaticTokenVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	id, ok := v.tokens[token]
	if !ok {
		return nil, ErrInvalidCredentials
	}
	cp := id
	return &cp, nil
}
