package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.ozon.dev/pupkingeorgij/shoptrack/internal/auth"
	"gitlab.ozon.dev/pupkingeorgij/shoptrack/internal/repository"
)

type fakeDirectory struct {
	users map[string]*repository.User
}

func (d *fakeDirectory) GetByID(_ context.Context, id string) (*repository.User, error) {
	user, ok := d.users[id]
	if !ok {
		return nil, repository.ErrObjectNotFound
	}
	return user, nil
}

func newDirectory() *fakeDirectory {
	return &fakeDirectory{users: map[string]*repository.User{
		"u1":    {ID: "u1", Email: "u1@example.com", Role: "customer"},
		"admin": {ID: "admin", Email: "admin@example.com", Role: "Admin"},
	}}
}

func TestAuthenticate_RoundTrip(t *testing.T) {
	a := auth.New([]byte("secret"), newDirectory(), time.Hour)

	token, err := a.IssueToken(&repository.User{ID: "u1"})
	require.NoError(t, err)

	identity, err := a.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "u1", identity.UserID)
	assert.Equal(t, "customer", identity.Role)
	assert.False(t, identity.Privileged)
}

func TestAuthenticate_AdminRoleResolvedOnce(t *testing.T) {
	a := auth.New([]byte("secret"), newDirectory(), time.Hour)

	token, err := a.IssueToken(&repository.User{ID: "admin"})
	require.NoError(t, err)

	identity, err := a.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, identity.Role)
	assert.True(t, identity.Privileged)
}

func TestAuthenticate_Failures(t *testing.T) {
	a := auth.New([]byte("secret"), newDirectory(), time.Hour)

	t.Run("missing token", func(t *testing.T) {
		_, err := a.Authenticate(context.Background(), "")
		assert.ErrorIs(t, err, auth.ErrUnauthenticated)
	})

	t.Run("expired token", func(t *testing.T) {
		claims := jwt.RegisteredClaims{
			Subject:   "u1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
		require.NoError(t, err)

		_, err = a.Authenticate(context.Background(), token)
		assert.ErrorIs(t, err, auth.ErrUnauthenticated)
	})

	t.Run("wrong secret", func(t *testing.T) {
		other := auth.New([]byte("other"), newDirectory(), time.Hour)
		token, err := other.IssueToken(&repository.User{ID: "u1"})
		require.NoError(t, err)

		_, err = a.Authenticate(context.Background(), token)
		assert.ErrorIs(t, err, auth.ErrUnauthenticated)
	})

	t.Run("unknown user", func(t *testing.T) {
		token, err := a.IssueToken(&repository.User{ID: "ghost"})
		require.NoError(t, err)

		_, err = a.Authenticate(context.Background(), token)
		assert.ErrorIs(t, err, auth.ErrUnauthenticated)
	})
}
