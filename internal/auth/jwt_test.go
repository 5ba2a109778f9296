package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/your-org/peoplecounter/internal/config"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)

	m, err := NewManager(config.AuthConfig{
		Username:     "admin",
		PasswordHash: string(hash),
		JWTSecret:    "test-secret",
		TokenTTL:     time.Hour,
	})
	require.NoError(t, err)
	return m
}

func TestLoginAndVerifyRoundTrip(t *testing.T) {
	m := testManager(t)

	token, err := m.Login("admin", "hunter2")
	require.NoError(t, err)

	subject, err := m.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", subject)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	m := testManager(t)

	_, err := m.Login("admin", "wrong")
	assert.Error(t, err)
	_, err = m.Login("nobody", "hunter2")
	assert.Error(t, err)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	m := testManager(t)

	m.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err := m.Login("admin", "hunter2")
	require.NoError(t, err)

	m.now = time.Now
	_, err = m.Verify(token)
	assert.Error(t, err)
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	m := testManager(t)
	other, err := NewManager(config.AuthConfig{
		Username:  "admin",
		Password:  "hunter2",
		JWTSecret: "other-secret",
	})
	require.NoError(t, err)

	token, err := other.Login("admin", "hunter2")
	require.NoError(t, err)

	_, err = m.Verify(token)
	assert.Error(t, err)
}

func TestNewManagerRequiresSecret(t *testing.T) {
	_, err := NewManager(config.AuthConfig{Username: "admin", Password: "x"})
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := testManager(t)
	token, err := m.Login("admin", "hunter2")
	require.NoError(t, err)

	router := gin.New()
	router.GET("/protected", m.Middleware(false), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user": Subject(c)})
	})
	router.GET("/ws", m.Middleware(true), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	// Bearer header accepted.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "admin")

	// Missing token → 401 with structured body.
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/protected", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "unauthorized")

	// Query token only where allowed.
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/protected?token="+token, nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
