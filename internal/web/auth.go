package web

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	appLog "taskcal/internal/log"
)

type ctxKey int

const userKey ctxKey = 0

func withUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey, userID)
}

func userFrom(ctx context.Context) string {
	id, _ := ctx.Value(userKey).(string)
	return id
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured. An empty
// username or a missing secret disables it.
func (s *Server) basicAuthEnabled() bool {
	ba := s.cfg.BasicAuth
	if ba == nil || ba.Username == "" {
		return false
	}
	return ba.Password != "" || ba.PasswordHash != ""
}

// basicAuthMiddleware guards everything except /health. The authenticated
// username becomes the request's user.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	ba := *s.cfg.BasicAuth

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, ba.Username) || !checkPassword(p, ba.Password, ba.PasswordHash) {
			w.Header().Set("WWW-Authenticate", `Basic realm="taskcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), u)))
	})
}

// defaultUserMiddleware attributes every request to the configured default
// user.
func (s *Server) defaultUserMiddleware(next http.Handler) http.Handler {
	user := s.cfg.DefaultUser
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
	})
}

func checkPassword(given, plain, hash string) bool {
	if hash != "" {
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(given)) == nil
	}
	return secureCompare(given, plain)
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		appLog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed", time.Since(started).Round(time.Microsecond),
		)
	})
}
