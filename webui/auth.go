package webui

import (
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// ErrEmptyPassword is returned when password protection is requested
// without a password.
var ErrEmptyPassword = errors.New("webui: password cannot be empty")

// Login throttling.
const (
	MaxLoginAttempts = 5
	LoginWindow      = 15 * time.Minute
	LoginBlock       = 30 * time.Minute
)

// BasicAuth protects the UI with HTTP basic authentication. The user name is
// fixed; only the password is checked, against a bcrypt hash.
type BasicAuth struct {
	username  string
	hash      []byte
	limiter   *RateLimiter
	skipPaths map[string]bool
	logger    *zap.Logger
}

// NewBasicAuth hashes password with cost (bcrypt.DefaultCost when zero).
func NewBasicAuth(username, password string, cost int, logger *zap.Logger) (*BasicAuth, error) {
	if password == "" {
		return nil, ErrEmptyPassword
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BasicAuth{
		username:  username,
		hash:      hash,
		limiter:   NewRateLimiter(MaxLoginAttempts, LoginWindow, LoginBlock),
		skipPaths: map[string]bool{"/health": true},
		logger:    logger.Named("auth"),
	}, nil
}

// Middleware rejects requests without valid credentials.
func (a *BasicAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		addr := remoteHost(r)
		if ok, wait := a.limiter.Allow(addr); !ok {
			w.Header().Set("Retry-After", strconv.Itoa(max(1, int(wait.Seconds()))))
			writeError(w, http.StatusTooManyRequests, "too many failed attempts")
			return
		}

		user, pass, ok := r.BasicAuth()
		if ok && a.check(user, pass) {
			a.limiter.Reset(addr)
			next.ServeHTTP(w, r)
			return
		}

		if ok {
			n := a.limiter.RecordFailure(addr)
			a.logger.Warn("failed login", zap.String("addr", addr), zap.Int("attempts", n))
		}
		w.Header().Set("WWW-Authenticate", `Basic realm="zimage", charset="UTF-8"`)
		writeError(w, http.StatusUnauthorized, "unauthorized")
	})
}

func (a *BasicAuth) check(user, pass string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(a.username)) == 1
	passOK := bcrypt.CompareHashAndPassword(a.hash, []byte(pass)) == nil
	return userOK && passOK
}

// remoteHost is the peer address without port. Forwarding headers are
// ignored so a client cannot dodge throttling by spoofing them.
func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
