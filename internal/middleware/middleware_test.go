package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newAuthRouter(mw gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	router.GET("/protected", mw, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return router
}

func doRequest(router *gin.Engine, target, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCronAuth(t *testing.T) {
	tests := []struct {
		name          string
		secret        string
		authorization string
		wantStatus    int
	}{
		{name: "valid bearer", secret: "s3cret", authorization: "Bearer s3cret", wantStatus: http.StatusOK},
		{name: "case-insensitive scheme", secret: "s3cret", authorization: "bearer s3cret", wantStatus: http.StatusOK},
		{name: "wrong secret", secret: "s3cret", authorization: "Bearer nope", wantStatus: http.StatusUnauthorized},
		{name: "missing header", secret: "s3cret", wantStatus: http.StatusUnauthorized},
		{name: "basic scheme", secret: "s3cret", authorization: "Basic s3cret", wantStatus: http.StatusUnauthorized},
		{name: "unset secret rejects everyone", secret: "", authorization: "Bearer ", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(newAuthRouter(CronAuth(tt.secret)), "/protected", tt.authorization)
			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

func TestAdminAuth(t *testing.T) {
	tests := []struct {
		name          string
		secret        string
		target        string
		authorization string
		wantStatus    int
	}{
		{name: "query secret", secret: "adm", target: "/protected?secret=adm", wantStatus: http.StatusOK},
		{name: "bearer secret", secret: "adm", target: "/protected", authorization: "Bearer adm", wantStatus: http.StatusOK},
		{name: "wrong query secret", secret: "adm", target: "/protected?secret=x", wantStatus: http.StatusUnauthorized},
		{name: "missing secret", secret: "adm", target: "/protected", wantStatus: http.StatusUnauthorized},
		{name: "open when unset", secret: "", target: "/protected", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(newAuthRouter(AdminAuth(tt.secret)), tt.target, tt.authorization)
			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusUnauthorized {
				assert.NotContains(t, w.Body.String(), "ok")
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("request_id"))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Equal(t, w.Header().Get("X-Request-ID"), w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "fixed-id", w.Body.String())
}

func TestRecovery(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	gin.DefaultErrorWriter = io.Discard

	router := gin.New()
	router.Use(Recovery(logger))
	router.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "Internal Server Error")
}
