// Package auth issues and validates the bearer tokens that identify
// marketplace participants. The token subject is the participant's
// identity and doubles as their ledger account id.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	issuer       = "unitask"
	secretEnvVar = "UNITASK_AUTH_SECRET"

	// clockSkew is tolerated on iat/exp validation so tokens minted on
	// a slightly fast machine are not rejected.
	clockSkew = 5 * time.Second
)

// ErrInvalidToken indicates the token failed signature or claims
// validation. The HTTP layer maps it to 401.
var ErrInvalidToken = errors.New("invalid token")

var errMissingSecret = errors.New("auth secret is not configured")

// Claims carries the marketplace roles on top of the registered JWT set.
type Claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// GenerateToken signs an HS256 JWT for the given identity. Roles are
// lower-cased and deduplicated before signing.
func GenerateToken(userID string, roles []string, ttl time.Duration) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", errors.New("userID is required")
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be greater than zero")
	}
	key, err := signingKey()
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Roles: normalizeRoles(roles),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	})
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseAndValidate checks the signature, issuer, and time claims of a
// bearer token and returns its claims.
func ParseAndValidate(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	key, err := signingKey()
	if err != nil {
		return nil, err
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(clockSkew),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	claims.Roles = normalizeRoles(claims.Roles)
	return claims, nil
}

func normalizeRoles(roles []string) []string {
	seen := make(map[string]struct{}, len(roles))
	var out []string
	for _, role := range roles {
		role = strings.ToLower(strings.TrimSpace(role))
		if role == "" {
			continue
		}
		if _, dup := seen[role]; dup {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	return out
}

// The signing key is read from the environment once and cached.
var keyHolder struct {
	sync.Mutex
	loaded bool
	key    []byte
	err    error
}

func signingKey() ([]byte, error) {
	keyHolder.Lock()
	defer keyHolder.Unlock()
	if !keyHolder.loaded {
		raw := strings.TrimSpace(os.Getenv(secretEnvVar))
		if raw == "" {
			keyHolder.err = errMissingSecret
		} else {
			keyHolder.key = []byte(raw)
		}
		keyHolder.loaded = true
	}
	return keyHolder.key, keyHolder.err
}

// ResetSecretForTests drops the cached signing key so tests can swap
// the environment secret.
func ResetSecretForTests() {
	keyHolder.Lock()
	defer keyHolder.Unlock()
	keyHolder.loaded = false
	keyHolder.key = nil
	keyHolder.err = nil
}

type ctxKey int

const (
	userIDKey ctxKey = iota
	rolesKey
)

// ContextWithUser stores the authenticated identity and roles.
func ContextWithUser(ctx context.Context, userID string, roles []string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, strings.TrimSpace(userID))
	if len(roles) > 0 {
		ctx = context.WithValue(ctx, rolesKey, normalizeRoles(roles))
	}
	return ctx
}

// UserIDFromContext returns the authenticated identity, if any.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey).(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// RolesFromContext returns a copy of the stored roles.
func RolesFromContext(ctx context.Context) []string {
	roles, ok := ctx.Value(rolesKey).([]string)
	if !ok || len(roles) == 0 {
		return nil
	}
	out := make([]string, len(roles))
	copy(out, roles)
	return out
}

// HasRole reports whether the context carries the given role.
func HasRole(ctx context.Context, role string) bool {
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		return false
	}
	for _, have := range RolesFromContext(ctx) {
		if have == role {
			return true
		}
	}
	return false
}
