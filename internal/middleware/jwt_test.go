package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/birdsearch/internal/pkg/jwt"
)

func TestJWTAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	secret := []byte("secret")
	token, err := jwt.GenerateToken("annotator-1", secret, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name    string
		header  string
		aborted bool
	}{
		{name: "missing", header: "", aborted: true},
		{name: "wrong scheme", header: "Basic " + token, aborted: true},
		{name: "bad token", header: "Bearer nope", aborted: true},
		{name: "valid", header: "Bearer " + token, aborted: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest("GET", "/api/v1/sessions/s1", nil)
			if tt.header != "" {
				c.Request.Header.Set("Authorization", tt.header)
			}
			JWTAuth(secret)(c)
			require.Equal(t, tt.aborted, c.IsAborted())
			if !tt.aborted {
				require.Equal(t, "annotator-1", c.GetString(ContextUserIDKey))
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest("GET", "/", nil)
	RequestID()(c)
	generated := c.GetString(ContextRequestIDKey)
	require.NotEmpty(t, generated)
	require.Equal(t, generated, rec.Header().Get("X-Request-Id"))

	c, _ = gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/", nil)
	c.Request.Header.Set("X-Request-Id", "abc")
	RequestID()(c)
	require.Equal(t, "abc", c.GetString(ContextRequestIDKey))
}
