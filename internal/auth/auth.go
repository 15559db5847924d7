package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"gitlab.ozon.dev/pupkingeorgij/shoptrack/internal/repository"
)

var ErrUnauthenticated = errors.New("unauthenticated")

const (
	RoleAdmin    = "admin"
	RoleCustomer = "customer"
)

// Identity is resolved once per credential and attached to the connection or
// request context. The role is never re-resolved afterwards.
type Identity struct {
	UserID     string
	Role       string
	Privileged bool
}

type UserDirectory interface {
	GetByID(ctx context.Context, id string) (*repository.User, error)
}

// Authenticator verifies HS256 bearer tokens against a shared secret and
// resolves the referenced user. The same instance serves both the HTTP
// middleware and the websocket handshake so the two surfaces cannot drift.
type Authenticator struct {
	secret   []byte
	users    UserDirectory
	tokenTTL time.Duration
}

func New(secret []byte, users UserDirectory, tokenTTL time.Duration) *Authenticator {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Authenticator{
		secret:   secret,
		users:    users,
		tokenTTL: tokenTTL,
	}
}

// Authenticate verifies the token's signature and expiry, looks up the
// referenced user and returns the resolved identity. Any failure yields
// ErrUnauthenticated; no partial state is created.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: missing token", ErrUnauthenticated)
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: token without subject", ErrUnauthenticated)
	}

	user, err := a.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: unknown user", ErrUnauthenticated)
		}
		return nil, err
	}

	role := strings.ToLower(user.Role)
	return &Identity{
		UserID:     user.ID,
		Role:       role,
		Privileged: role == RoleAdmin,
	}, nil
}

// IssueToken mints a signed bearer token for the given user.
func (a *Authenticator) IssueToken(user *repository.User) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   user.ID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.tokenTTL)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}
