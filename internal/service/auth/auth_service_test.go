package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"triplab/pkg/errors"
	"triplab/pkg/logger"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	return NewService("test-secret", time.Hour, logger.NewNop()).(*Service)
}

func TestSignInAndValidate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	issued, err := svc.SignInAnonymously(ctx, "  Ada  ")
	require.NoError(t, err)
	assert.Equal(t, "Ada", issued.Name)
	assert.NotEmpty(t, issued.UserID)

	ident, err := svc.ValidateToken(ctx, issued.Token)
	require.NoError(t, err)
	assert.Equal(t, issued.UserID, ident.UserID)
	assert.Equal(t, "Ada", ident.Name)
}

func TestSignInAnonymously_RequiresName(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.SignInAnonymously(context.Background(), "   ")
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestValidateToken_Rejects(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	issued, err := svc.SignInAnonymously(ctx, "Ada")
	require.NoError(t, err)

	expired := newTestService(t)
	expired.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	otherKey := NewService("another-secret", time.Hour, logger.NewNop())

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "u1", "iss": issuer, "exp": time.Now().Add(time.Hour).Unix(),
	})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	noSubject := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": issuer, "exp": time.Now().Add(time.Hour).Unix(),
	})
	anonymous, err := noSubject.SignedString([]byte("test-secret"))
	require.NoError(t, err)

	cases := []struct {
		name  string
		check func() error
	}{
		{"garbage", func() error { _, err := svc.ValidateToken(ctx, "not-a-token"); return err }},
		{"empty", func() error { _, err := svc.ValidateToken(ctx, ""); return err }},
		{"expired", func() error { _, err := expired.ValidateToken(ctx, issued.Token); return err }},
		{"wrong key", func() error { _, err := otherKey.ValidateToken(ctx, issued.Token); return err }},
		{"alg none", func() error { _, err := svc.ValidateToken(ctx, unsigned); return err }},
		{"no subject", func() error { _, err := svc.ValidateToken(ctx, anonymous); return err }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.check()
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeAuthentication))
		})
	}
}

func TestIsJWTToken(t *testing.T) {
	tests := []struct {
		name     string
		token    string
		expected bool
	}{
		{"three segments", "a.b.c", true},
		{"two segments", "a.b", false},
		{"four segments", "a.b.c.d", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isJWTToken(tt.token))
		})
	}
}
