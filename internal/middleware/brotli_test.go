package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBrotliRouter(body string) *gin.Engine {
	r := gin.New()
	r.Use(Brotli())
	r.GET("/x", func(c *gin.Context) {
		c.String(http.StatusOK, body)
	})
	return r
}

func TestBrotli_CompressesLargeBodies(t *testing.T) {
	body := strings.Repeat("exam description ", 200)
	r := newBrotliRouter(body)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Accept-Encoding", "gzip, br;q=0.9")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "br", w.Header().Get("Content-Encoding"))
	decoded, err := io.ReadAll(brotli.NewReader(w.Body))
	require.NoError(t, err)
	assert.Equal(t, body, string(decoded))
}

func TestBrotli_SmallBodiesStayPlain(t *testing.T) {
	r := newBrotliRouter("short")

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Accept-Encoding", "br")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Empty(t, w.Header().Get("Content-Encoding"))
	assert.Equal(t, "short", w.Body.String())
}

func TestBrotli_NotAccepted(t *testing.T) {
	body := strings.Repeat("x", 4096)
	r := newBrotliRouter(body)

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Empty(t, w.Header().Get("Content-Encoding"))
	assert.Equal(t, body, w.Body.String())
}
