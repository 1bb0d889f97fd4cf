package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/geocoder89/progresshub/internal/domain/user"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManager(t *testing.T, ttl time.Duration) *Manager {
	t.Helper()

	m, err := NewManager("test-secret-key", ttl)
	require.NoError(t, err)

	return m
}

func TestNewManager_EmptySecret(t *testing.T) {
	t.Parallel()

	m, err := NewManager("", time.Hour)
	require.ErrorIs(t, err, ErrEmptySecret)
	assert.Nil(t, m)
}

func TestIssueVerify_RoundTrip(t *testing.T) {
	t.Parallel()

	m := newManager(t, time.Hour)

	cases := []Identity{
		{ID: "u-1", Email: "ann@x.com", Role: user.RoleAdmin},
		{ID: "u-2", Email: "bob@x.com", Role: user.RoleTeacher},
		{ID: "u-3", Email: "cat@x.com", Role: user.RoleParent},
		{ID: "u-4", Email: "dan@x.com"},
	}

	for _, want := range cases {
		tok, err := m.Issue(want)
		require.NoError(t, err)
		require.NotEmpty(t, tok)

		claims, err := m.Verify(tok)
		require.NoError(t, err)

		assert.Equal(t, want, claims.Identity())
		assert.Equal(t, want.ID, claims.Subject)
		require.NotNil(t, claims.ExpiresAt)
		assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, 2*time.Second)
	}
}

func TestVerify_ExpiredWindow(t *testing.T) {
	t.Parallel()

	for _, ttl := range []time.Duration{0, -time.Second, -24 * time.Hour} {
		m := newManager(t, ttl)

		tok, err := m.Issue(Identity{ID: "u1", Email: "u1@x.com"})
		require.NoError(t, err)

		_, err = m.Verify(tok)
		require.ErrorIs(t, err, ErrInvalidToken, "ttl=%s", ttl)
		assert.ErrorIs(t, err, jwt.ErrTokenExpired)
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	t.Parallel()

	tok, err := newManager(t, time.Hour).Issue(Identity{ID: "u2", Email: "u2@x.com"})
	require.NoError(t, err)

	other, err := NewManager("another-secret", time.Hour)
	require.NoError(t, err)

	_, err = other.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_Malformed(t *testing.T) {
	t.Parallel()

	m := newManager(t, time.Hour)

	for _, raw := range []string{"", "not.a.jwt", "abc", "a.b.c.d"} {
		_, err := m.Verify(raw)
		assert.ErrorIs(t, err, ErrInvalidToken, "raw=%q", raw)
	}
}

func TestVerify_RejectsNoneAlgorithm(t *testing.T) {
	t.Parallel()

	claims := Claims{
		UserID: "u3",
		Email:  "u3@x.com",
		Role:   user.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}

	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = newManager(t, time.Hour).Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_RequiresExpiry(t *testing.T) {
	t.Parallel()

	claims := Claims{UserID: "u4", Email: "u4@x.com"}

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret-key"))
	require.NoError(t, err)

	_, err = newManager(t, time.Hour).Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_RejectsUnknownRole(t *testing.T) {
	t.Parallel()

	m := newManager(t, time.Hour)

	tok, err := m.Issue(Identity{ID: "u5", Email: "u5@x.com", Role: user.Role("superuser")})
	require.NoError(t, err)

	_, err = m.Verify(tok)
	require.ErrorIs(t, err, ErrInvalidToken)
	assert.True(t, errors.Is(err, user.ErrUnknownRole))
}

func TestVerify_RejectsMissingIdentity(t *testing.T) {
	t.Parallel()

	m := newManager(t, time.Hour)

	tok, err := m.Issue(Identity{ID: "", Email: "nobody@x.com"})
	require.NoError(t, err)

	_, err = m.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
