package jwtauth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuth_GenerateAndValidateToken(t *testing.T) {
	a := New("test-secret")

	token, err := a.GenerateToken("user-1", "client-1", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := a.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "client-1", claims.ClientID)
}

func TestAuth_ValidateToken_RejectsWrongSecret(t *testing.T) {
	a := New("test-secret")
	token, err := a.GenerateToken("user-1", "client-1", time.Hour)
	require.NoError(t, err)

	other := New("other-secret")
	_, err = other.ValidateToken(token)
	assert.Error(t, err)
}

func TestAuth_ValidateToken_RejectsExpired(t *testing.T) {
	a := New("test-secret")
	token, err := a.GenerateToken("user-1", "client-1", -time.Hour)
	require.NoError(t, err)

	_, err = a.ValidateToken(token)
	assert.Error(t, err)
}

func TestAuth_ClientIDAndUserID_FromRequest(t *testing.T) {
	a := New("test-secret")
	token, err := a.GenerateToken("user-1", "client-1", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/sync/push", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	clientID, err := a.ClientID(req)
	require.NoError(t, err)
	assert.Equal(t, "client-1", clientID)

	userID, err := a.UserID(req)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userID)
}

func TestAuth_ClientID_MissingHeaderErrors(t *testing.T) {
	a := New("test-secret")
	req := httptest.NewRequest(http.MethodPost, "/sync/push", nil)
	_, err := a.ClientID(req)
	assert.Error(t, err)
}

func TestAuth_FromQuery(t *testing.T) {
	a := New("test-secret")
	token, err := a.GenerateToken("user-1", "client-1", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/realtime?token="+token, nil)
	claims, err := a.FromQuery(req)
	require.NoError(t, err)
	assert.Equal(t, "client-1", claims.ClientID)

	req2 := httptest.NewRequest(http.MethodGet, "/realtime", nil)
	_, err = a.FromQuery(req2)
	assert.Error(t, err)
}
