package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	key    = "test-key"
	issuer = "schoolattend"
)

func TestIssueAndParse(t *testing.T) {
	pair, err := Issue("dev-1", RoleDevice, issuer, key, time.Minute, time.Hour)
	require.NoError(t, err)
	assert.True(t, pair.RefreshExp.After(pair.AccessExp))

	claims, err := Parse(pair.AccessToken, key, issuer)
	require.NoError(t, err)
	assert.Equal(t, "dev-1", claims.Subject)
	assert.Equal(t, RoleDevice, claims.Role)

	_, err = Parse(pair.AccessToken, "other-key", issuer)
	assert.Error(t, err)
	_, err = Parse(pair.AccessToken, key, "someone-else")
	assert.Error(t, err)
}

func TestRefreshTokenKinds(t *testing.T) {
	pair, err := Issue("dev-1", RoleDevice, issuer, key, time.Minute, time.Hour)
	require.NoError(t, err)

	_, err = Parse(pair.RefreshToken, key, issuer)
	assert.ErrorIs(t, err, ErrWrongKind, "refresh tokens must not open the API")
	_, err = ParseRefresh(pair.AccessToken, key, issuer)
	assert.ErrorIs(t, err, ErrWrongKind)

	claims, err := ParseRefresh(pair.RefreshToken, key, issuer)
	require.NoError(t, err)
	assert.Equal(t, "dev-1", claims.Subject)

	again, err := Issue("dev-1", RoleDevice, issuer, key, time.Minute, time.Hour)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, again.RefreshToken)
}

func TestIssueRequiresSubject(t *testing.T) {
	_, err := Issue("", RoleDevice, issuer, key, time.Minute, time.Hour)
	assert.Error(t, err)
}

func TestExpiredTokenRejected(t *testing.T) {
	pair, err := Issue("dev-1", RoleDevice, issuer, key, -time.Minute, time.Hour)
	require.NoError(t, err)
	_, err = Parse(pair.AccessToken, key, issuer)
	assert.Error(t, err)
}

func TestDeviceAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/who", DeviceAuth(key, issuer), func(c *gin.Context) {
		c.String(http.StatusOK, DeviceID(c))
	})
	pair, err := Issue("dev-9", RoleDevice, issuer, key, time.Minute, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		code   int
		body   string
	}{
		{name: "missing", header: "", code: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", code: http.StatusUnauthorized},
		{name: "garbage", header: "Bearer abc", code: http.StatusUnauthorized},
		{name: "refresh token", header: "Bearer " + pair.RefreshToken, code: http.StatusUnauthorized},
		{name: "valid", header: "Bearer " + pair.AccessToken, code: http.StatusOK, body: "dev-9"},
		{name: "lowercase scheme", header: "bearer " + pair.AccessToken, code: http.StatusOK, body: "dev-9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/who", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.code, w.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, w.Body.String())
			}
		})
	}
}
