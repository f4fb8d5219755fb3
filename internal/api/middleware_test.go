package api

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/npezzotti/geochat/internal/auth"
	"github.com/npezzotti/geochat/internal/testutil"
	"github.com/stretchr/testify/assert"
)

func TestErrorHandler_PanicRecovery(t *testing.T) {
	buf := &bytes.Buffer{}
	app := &GoChatApp{
		log: testutil.TestLogger(t),
	}

	app.log.SetOutput(buf)

	panicHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(errors.New("test panic"))
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	handler := app.errorHandler(panicHandler)
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "close", rr.Header().Get("Connection"))
	assert.Contains(t, buf.String(), "panic: test panic")
}

func Test_errorHandler_NoPanic(t *testing.T) {
	app := &GoChatApp{}

	called := false
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	handler := app.errorHandler(okHandler)
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
	assert.True(t, called, "expected handler to be called")
}

func TestAuthMiddleware(t *testing.T) {
	tokens := auth.NewTokenManager(testSigningKey)
	other := auth.NewTokenManager([]byte("another-key"))

	valid, _ := tokens.Issue("user-a", time.Hour)
	expired, _ := tokens.Issue("user-a", -time.Hour)
	foreign, _ := other.Issue("user-a", time.Hour)

	tcases := []struct {
		name       string
		setup      func(r *http.Request)
		statusCode int
	}{
		{
			name:       "bearer header",
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+valid) },
			statusCode: http.StatusOK,
		},
		{
			name:       "cookie",
			setup:      func(r *http.Request) { r.AddCookie(&http.Cookie{Name: auth.TokenCookieKey, Value: valid}) },
			statusCode: http.StatusOK,
		},
		{
			name:       "no credentials",
			setup:      func(r *http.Request) {},
			statusCode: http.StatusUnauthorized,
		},
		{
			name:       "expired token",
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+expired) },
			statusCode: http.StatusUnauthorized,
		},
		{
			name:       "signed with another key",
			setup:      func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+foreign) },
			statusCode: http.StatusUnauthorized,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			app := &GoChatApp{log: testutil.TestLogger(t), tokens: tokens}

			var gotUser string
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotUser, _ = auth.UserId(r.Context())
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/api/rooms/general", nil)
			tc.setup(req)
			rr := httptest.NewRecorder()
			app.authMiddleware(next).ServeHTTP(rr, req)

			assert.Equal(t, tc.statusCode, rr.Code, "unexpected status code")
			if tc.statusCode == http.StatusOK {
				assert.Equal(t, "user-a", gotUser, "expected user id in context")
				assert.Equal(t, "no-store, no-cache, must-revalidate, private", rr.Header().Get("Cache-Control"))
			}
		})
	}
}
