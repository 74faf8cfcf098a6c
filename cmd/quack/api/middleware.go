package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/greatbit/quack/cmd/quack/session"
	"github.com/rs/zerolog"
)

// SessionCookie is the cookie carrying the session token when no
// Authorization header is sent
const SessionCookie = "sid"

// sessionHandler is a handler that runs with a resolved session
type sessionHandler func(w http.ResponseWriter, r *http.Request, sess *session.Session)

// requestLogger logs every request once it has been served
func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}

				event := log.Info()
				if status >= http.StatusInternalServerError {
					event = log.Error()
				}
				event.
					Str("request_id", middleware.GetReqID(r.Context())).
					Str("method", r.Method).
					Str("path", r.URL.EscapedPath()).
					Str("remote", r.RemoteAddr).
					Int("status", status).
					Int("bytes", ww.BytesWritten()).
					Dur("duration", time.Since(start)).
					Msg("Request served")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// requireSession resolves the session of the request token and stores it
// in the request context. Requests without a valid token get 401.
func (rt *Router) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := sessionToken(r)
		if token == "" {
			respondWithIssue(w, http.StatusUnauthorized, NewSecurityIssue("authentication required"))
			return
		}

		sess, err := rt.sessions.Lookup(r.Context(), token)
		if err != nil {
			if !errors.Is(err, session.ErrNotFound) {
				rt.log.Error().Err(err).Msg("Failed to resolve session")
			}
			respondWithIssue(w, http.StatusUnauthorized, NewSecurityIssue("invalid or expired session"))
			return
		}

		next.ServeHTTP(w, r.WithContext(session.NewContext(r.Context(), sess)))
	})
}

// withSession passes the session stored by requireSession to h
func withSession(h sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := session.FromContext(r.Context())
		if !ok {
			respondWithIssue(w, http.StatusUnauthorized, NewSecurityIssue("authentication required"))
			return
		}
		h(w, r, sess)
	}
}

func sessionToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if scheme, token, ok := strings.Cut(auth, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		return cookie.Value
	}
	return ""
}
