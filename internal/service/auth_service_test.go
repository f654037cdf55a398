package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/academia-billing-api/internal/models"
	appErrors "github.com/noah-isme/academia-billing-api/pkg/errors"
)

func TestAuthServiceIssueAndValidate(t *testing.T) {
	svc := NewAuthService(AuthConfig{AccessTokenSecret: "secret", AccessTokenExpiry: time.Minute, Issuer: "academia"})

	token, expiresAt, err := svc.IssueToken("user-1", "gym-1", models.RoleAdmin)
	require.NoError(t, err)
	assert.True(t, expiresAt.After(time.Now()))

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "gym-1", claims.TenantID)
	assert.Equal(t, models.RoleAdmin, claims.Role)
}

func TestAuthServiceRejectsWrongSecret(t *testing.T) {
	issuer := NewAuthService(AuthConfig{AccessTokenSecret: "other"})
	token, _, err := issuer.IssueToken("user-1", "gym-1", models.RoleAdmin)
	require.NoError(t, err)

	_, err = NewAuthService(AuthConfig{AccessTokenSecret: "secret"}).ValidateToken(token)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))
}

func TestAuthServiceRejectsExpiredToken(t *testing.T) {
	claims := &models.JWTClaims{
		UserID:   "user-1",
		TenantID: "gym-1",
		Role:     models.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = NewAuthService(AuthConfig{AccessTokenSecret: "secret"}).ValidateToken(token)
	assert.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))
}

func TestAuthServiceRequiresTenantForAdmins(t *testing.T) {
	svc := NewAuthService(AuthConfig{AccessTokenSecret: "secret"})

	token, _, err := svc.IssueToken("user-1", "", models.RoleAdmin)
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	assert.True(t, appErrors.Is(err, appErrors.ErrUnauthorized))

	token, _, err = svc.IssueToken("root", "", models.RoleSuperAdmin)
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	assert.NoError(t, err)
}
