package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"greendrake/housemarket/internal/api/middleware"
	"greendrake/housemarket/internal/auth"
)

const testSecret = "test-secret"

func setupAuthEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", middleware.AuthMiddleware(testSecret), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(middleware.ContextKeyUserID))
	})
	return r
}

func TestAuthMiddleware(t *testing.T) {
	valid, _, err := auth.GenerateJWT("user-1", "a@b.co", testSecret, time.Hour)
	require.NoError(t, err)
	expired, _, err := auth.GenerateJWT("user-1", "a@b.co", testSecret, -time.Hour)
	require.NoError(t, err)
	foreign, _, err := auth.GenerateJWT("user-1", "a@b.co", "other-secret", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		code   int
	}{
		{"Missing header", "", http.StatusUnauthorized},
		{"Wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"Expired token", "Bearer " + expired, http.StatusUnauthorized},
		{"Wrong secret", "Bearer " + foreign, http.StatusUnauthorized},
		{"Valid token", "Bearer " + valid, http.StatusOK},
	}

	router := setupAuthEngine()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.code, w.Code)
			if tt.code == http.StatusOK {
				assert.Equal(t, "user-1", w.Body.String())
			}
		})
	}
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.CORSMiddleware())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodOptions, "/x", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
