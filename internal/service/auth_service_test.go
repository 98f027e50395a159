package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/docvault-api/internal/models"
	appErrors "github.com/noah-isme/docvault-api/pkg/errors"
)

func newTestAuth() *AuthService {
	return NewAuthService(nil, AuthConfig{
		AccessTokenSecret: "secret",
		AccessTokenExpiry: time.Hour,
		Issuer:            "docvault",
		Audience:          []string{"docvault-api"},
	})
}

func TestIssueAndValidateToken(t *testing.T) {
	svc := newTestAuth()
	actor := models.Actor{UserID: "user-1", TeamID: "team-1", Role: models.RoleEditor}

	token, expiresAt, err := svc.IssueToken(actor, "ed@example.com", "Ed")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, time.Minute)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, actor, claims.Actor())
	assert.Equal(t, "ed@example.com", claims.Email)
}

func TestValidateTokenRejections(t *testing.T) {
	svc := newTestAuth()
	actor := models.Actor{UserID: "user-1", TeamID: "team-1", Role: models.RoleEditor}
	valid, _, err := svc.IssueToken(actor, "", "")
	require.NoError(t, err)

	other := NewAuthService(nil, AuthConfig{AccessTokenSecret: "other", Issuer: "docvault", Audience: []string{"docvault-api"}})
	forged, _, err := other.IssueToken(actor, "", "")
	require.NoError(t, err)

	expiredSvc := newTestAuth()
	expiredSvc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _, err := expiredSvc.IssueToken(actor, "", "")
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, &models.JWTClaims{UserID: "user-1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"garbage":   "not-a-token",
		"forged":    forged,
		"expired":   expired,
		"alg none":  none,
		"truncated": valid[:len(valid)-4],
	} {
		_, err := svc.ValidateToken(token)
		assert.ErrorIs(t, err, appErrors.ErrUnauthorized, name)
	}
}

func TestIssueTokenRequiresIdentity(t *testing.T) {
	_, _, err := newTestAuth().IssueToken(models.Actor{TeamID: "team-1"}, "", "")
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}
