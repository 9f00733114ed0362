package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hpcgate/hpcgate/internal/repositories"
)

// contextKey is an unexported type for context keys defined in this package.
type contextKey int

const (
	// contextKeyUserID holds the caller's id after RequireUser runs.
	contextKeyUserID contextKey = iota
)

// userHeader carries the caller identity set by the fronting gateway.
const userHeader = "X-User-Id"

// RequireUser extracts the caller's id from the identity header and stores
// it in the request context. Requests without one are rejected.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(userHeader)
		if userID == "" {
			ErrUnauthorized(w)
			return
		}
		ctx := context.WithValue(r.Context(), contextKeyUserID, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CheckAccess enforces the allow/deny lists on submission routes. Must run
// after RequireUser.
func CheckAccess(access repositories.AccessRepository, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := userFromCtx(r.Context())
			if userID == "" {
				ErrUnauthorized(w)
				return
			}

			denied, reason, err := access.IsDenied(r.Context(), userID)
			if err != nil {
				logger.Error("denylist lookup", zap.Error(err))
				ErrInternal(w)
				return
			}
			if denied {
				if reason == "" {
					reason = "submission blocked"
				}
				ErrForbidden(w, reason)
				return
			}

			allowed, err := access.IsAllowed(r.Context(), userID)
			if err != nil {
				logger.Error("allowlist lookup", zap.Error(err))
				ErrInternal(w)
				return
			}
			if !allowed {
				ErrForbidden(w, "user is not on the allowlist")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger returns a Chi-compatible middleware that logs each request
// with the provided zap logger. Chi's middleware.RequestID is expected to
// run first so the request id is available.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}

// userFromCtx retrieves the caller id stored by RequireUser. Empty when the
// request is unauthenticated.
func userFromCtx(ctx context.Context) string {
	userID, _ := ctx.Value(contextKeyUserID).(string)
	return userID
}
