package service

import (
	"errors"
	"testing"
	"time"

	"github.com/clusterw/wgo-ui/database"
	"github.com/clusterw/wgo-ui/database/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenIssueAndValidate(t *testing.T) {
	setupTest(t)
	tokens := TokenService{}

	token, err := tokens.Issue()
	require.NoError(t, err)
	assert.NotEmpty(t, token.Token)
	assert.EqualValues(t, 86400, token.ExpiresIn)

	assert.NoError(t, tokens.Validate(token.Token))
	assert.True(t, errors.Is(tokens.Validate("no-such-token"), ErrAuth))
}

func TestTokenExpiry(t *testing.T) {
	setupTest(t)
	tokens := TokenService{}

	expired := &model.Token{
		Token:     "expired-token",
		CreatedAt: time.Now().Unix() - 90000,
		ExpiresIn: 86400,
	}
	require.NoError(t, database.GetDB().Create(expired).Error)

	assert.True(t, errors.Is(tokens.Validate("expired-token"), ErrAuth))

	// expired tokens are deleted on sight
	var count int64
	database.GetDB().Model(model.Token{}).Where("token = ?", "expired-token").Count(&count)
	assert.Zero(t, count)
}

func TestTokenRevokeAll(t *testing.T) {
	setupTest(t)
	tokens := TokenService{}

	first, err := tokens.Issue()
	require.NoError(t, err)
	second, err := tokens.Issue()
	require.NoError(t, err)

	require.NoError(t, tokens.RevokeAll())
	assert.Error(t, tokens.Validate(first.Token))
	assert.Error(t, tokens.Validate(second.Token))
}

func TestTokenCleanupExpired(t *testing.T) {
	setupTest(t)
	tokens := TokenService{}

	_, err := tokens.Issue()
	require.NoError(t, err)
	expired := &model.Token{
		Token:     "stale",
		CreatedAt: time.Now().Unix() - 90000,
		ExpiresIn: 86400,
	}
	require.NoError(t, database.GetDB().Create(expired).Error)

	count, err := tokens.CleanupExpired()
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestLoginLimiter(t *testing.T) {
	limiter := NewLoginLimiter(time.Minute)

	assert.Zero(t, limiter.Count("10.0.0.1"))
	limiter.Record("10.0.0.1")
	limiter.Record("10.0.0.1")
	assert.Equal(t, 2, limiter.Count("10.0.0.1"))
	assert.Zero(t, limiter.Count("10.0.0.2"))

	limiter.Clear("10.0.0.1")
	assert.Zero(t, limiter.Count("10.0.0.1"))
}

func TestUserCredentials(t *testing.T) {
	setupTest(t)
	t.Setenv("WGO_ADMIN_USER", "admin")
	t.Setenv("WGO_ADMIN_PASSWORD", "secret123")

	users := UserService{}
	require.NoError(t, users.EnsureAdmin())

	assert.NoError(t, users.CheckCredentials("admin", "secret123"))
	assert.True(t, errors.Is(users.CheckCredentials("admin", "wrong"), ErrAuth))
	assert.True(t, errors.Is(users.CheckCredentials("nobody", "secret123"), ErrAuth))
}

func TestChangePasswordRevokesTokens(t *testing.T) {
	setupTest(t)
	t.Setenv("WGO_ADMIN_USER", "admin")
	t.Setenv("WGO_ADMIN_PASSWORD", "secret123")

	users := UserService{}
	require.NoError(t, users.EnsureAdmin())

	token, err := users.TokenService.Issue()
	require.NoError(t, err)

	require.NoError(t, users.ChangePassword("admin", "secret123", "newpassword"))

	assert.Error(t, users.TokenService.Validate(token.Token), "password change drops every session")
	assert.NoError(t, users.CheckCredentials("admin", "newpassword"))
	assert.Error(t, users.CheckCredentials("admin", "secret123"))
}

func TestChangePasswordRejectsWeak(t *testing.T) {
	setupTest(t)
	t.Setenv("WGO_ADMIN_USER", "admin")
	t.Setenv("WGO_ADMIN_PASSWORD", "secret123")

	users := UserService{}
	require.NoError(t, users.EnsureAdmin())

	err := users.ChangePassword("admin", "secret123", "abc")
	assert.True(t, errors.Is(err, ErrValidation))
}
