package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"mercator-hq/admission/pkg/quota"
)

// Headers read by HeaderIdentity.
const (
	HeaderAPIKey          = "X-API-Key"
	HeaderTier            = "X-Tier"
	HeaderResourceScope   = "X-Resource-Scope"
	HeaderEstimatedTokens = "X-Estimated-Tokens"
)

var (
	// ErrUnidentified is returned when a request carries no caller identity.
	ErrUnidentified = errors.New("request carries no caller identity")

	// ErrInvalidToken is returned when a bearer token fails verification.
	ErrInvalidToken = errors.New("invalid token")
)

// Identity is the caller a request is admitted for.
type Identity struct {
	Identifier      string `json:"identifier"`
	Tier            string `json:"tier"`
	Scope           string `json:"resource,omitempty"`
	EstimatedTokens int64  `json:"estimated_tokens,omitempty"`
}

// Request converts the identity into a limiter request.
func (id Identity) Request() quota.Request {
	return quota.Request{
		Identifier:      id.Identifier,
		Tier:            id.Tier,
		Scope:           id.Scope,
		EstimatedTokens: id.EstimatedTokens,
	}
}

// IdentityFunc resolves the caller of an HTTP request.
type IdentityFunc func(r *http.Request) (Identity, error)

// HeaderIdentity trusts identity headers set by an upstream authenticator.
// A missing X-Tier falls back to defaultTier.
func HeaderIdentity(defaultTier string) IdentityFunc {
	return func(r *http.Request) (Identity, error) {
		id := Identity{
			Identifier: strings.TrimSpace(r.Header.Get(HeaderAPIKey)),
			Tier:       strings.TrimSpace(r.Header.Get(HeaderTier)),
			Scope:      strings.TrimSpace(r.Header.Get(HeaderResourceScope)),
		}
		if id.Identifier == "" {
			return Identity{}, ErrUnidentified
		}
		if id.Tier == "" {
			id.Tier = defaultTier
		}
		tokens, err := estimatedTokens(r)
		if err != nil {
			return Identity{}, err
		}
		id.EstimatedTokens = tokens
		return id, nil
	}
}

// Claims are the JWT claims JWTIdentity reads: the subject is the
// identifier and "tier" selects the tier.
type Claims struct {
	Tier string `json:"tier,omitempty"`
	jwt.RegisteredClaims
}

// JWTIdentity verifies an HS256 bearer token signed with secret. The
// resource scope and token estimate are still read from headers.
func JWTIdentity(secret []byte, defaultTier string) IdentityFunc {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	keyFunc := func(*jwt.Token) (any, error) { return secret, nil }

	return func(r *http.Request) (Identity, error) {
		raw, ok := bearerToken(r)
		if !ok {
			return Identity{}, ErrUnidentified
		}

		var claims Claims
		if _, err := parser.ParseWithClaims(raw, &claims, keyFunc); err != nil {
			return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		if claims.Subject == "" {
			return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
		}

		id := Identity{
			Identifier: claims.Subject,
			Tier:       claims.Tier,
			Scope:      strings.TrimSpace(r.Header.Get(HeaderResourceScope)),
		}
		if id.Tier == "" {
			id.Tier = defaultTier
		}
		tokens, err := estimatedTokens(r)
		if err != nil {
			return Identity{}, err
		}
		id.EstimatedTokens = tokens
		return id, nil
	}
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(auth[len(prefix):]), true
}

func estimatedTokens(r *http.Request) (int64, error) {
	v := r.Header.Get(HeaderEstimatedTokens)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s header %q", HeaderEstimatedTokens, v)
	}
	return n, nil
}
