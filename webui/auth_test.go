package webui

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"
)

func newTestAuth(t *testing.T) (*BasicAuth, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zapcore.WarnLevel)
	a, err := NewBasicAuth("zimage", "hunter2", bcrypt.MinCost, zap.New(core))
	if err != nil {
		t.Fatalf("NewBasicAuth() error = %v", err)
	}
	return a, logs
}

func authRequest(path, user, pass string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "192.0.2.7:51000"
	if user != "" || pass != "" {
		req.SetBasicAuth(user, pass)
	}
	return req
}

func TestNewBasicAuth_EmptyPassword(t *testing.T) {
	if _, err := NewBasicAuth("zimage", "", bcrypt.MinCost, nil); !errors.Is(err, ErrEmptyPassword) {
		t.Errorf("error = %v, want ErrEmptyPassword", err)
	}
}

func TestBasicAuth_Middleware(t *testing.T) {
	a, _ := newTestAuth(t)
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name       string
		path       string
		user, pass string
		want       int
	}{
		{"valid", "/", "zimage", "hunter2", http.StatusNoContent},
		{"no credentials", "/", "", "", http.StatusUnauthorized},
		{"wrong password", "/", "zimage", "nope", http.StatusUnauthorized},
		{"wrong user", "/", "admin", "hunter2", http.StatusUnauthorized},
		{"health exempt", "/health", "", "", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, authRequest(tt.path, tt.user, tt.pass))
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if rec.Code == http.StatusUnauthorized && !strings.HasPrefix(rec.Header().Get("WWW-Authenticate"), "Basic") {
				t.Errorf("missing WWW-Authenticate header")
			}
		})
	}
}

func TestBasicAuth_ThrottlesFailures(t *testing.T) {
	a, logs := newTestAuth(t)
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for i := 0; i < MaxLoginAttempts; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, authRequest("/", "zimage", "wrong"))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status = %d, want 401", i+1, rec.Code)
		}
	}
	if logs.FilterMessage("failed login").Len() != MaxLoginAttempts {
		t.Errorf("logged %d failures, want %d", logs.FilterMessage("failed login").Len(), MaxLoginAttempts)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, authRequest("/", "zimage", "hunter2"))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
}

func TestBasicAuth_SuccessResetsCount(t *testing.T) {
	a, _ := newTestAuth(t)
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for i := 0; i < MaxLoginAttempts-1; i++ {
		h.ServeHTTP(httptest.NewRecorder(), authRequest("/", "zimage", "wrong"))
	}
	h.ServeHTTP(httptest.NewRecorder(), authRequest("/", "zimage", "hunter2"))
	if a.limiter.Len() != 0 {
		t.Errorf("limiter tracks %d addresses after success, want 0", a.limiter.Len())
	}
}

func TestRemoteHost(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[::1]:8080"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	if got := remoteHost(req); got != "::1" {
		t.Errorf("remoteHost() = %q, want ::1", got)
	}
	req.RemoteAddr = "pipe"
	if got := remoteHost(req); got != "pipe" {
		t.Errorf("remoteHost() = %q, want pipe", got)
	}
}

func TestServer_PasswordProtected(t *testing.T) {
	s := newTestServer(t, &fakeGenerator{}, func(c *ServerConfig, d *Deps) {
		c.Password = "hunter2"
		c.AuthCost = bcrypt.MinCost
	})
	h := s.Handler()

	if rec := do(t, h, http.MethodGet, "/api/config", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/config", nil)
	req.SetBasicAuth("zimage", "hunter2")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("authenticated status = %d, want 200", rec.Code)
	}
}
