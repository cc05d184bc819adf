package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/keypost/keypost/internal/auth"
	"github.com/keypost/keypost/internal/metrics"
	"github.com/keypost/keypost/internal/model"
)

// IdentityMirror resolves verified claims to the local user record.
type IdentityMirror interface {
	Mirror(ctx context.Context, claims *auth.Claims) (*model.User, error)
}

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	Logger   *slog.Logger
	Verifier auth.TokenVerifier
	Mirror   IdentityMirror
	Metrics  metrics.Recorder
	Proxies  *TrustedProxies
}

// Authenticate returns a middleware that admits only requests carrying a
// valid bearer token. The token's identity is upserted into the local users
// table and the resulting principal is stored in the request context.
//
// Every rejection gets the same 401 body; the cause is only logged.
func Authenticate(cfg AuthConfig) func(http.Handler) http.Handler {
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.NewNoop()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reject := func(reason string, err error) {
				attrs := []any{
					slog.String("reason", reason),
					slog.String("ip", cfg.Proxies.ClientIP(r)),
					slog.String("endpoint", r.Method+" "+r.URL.Path),
					slog.String("request_id", GetRequestID(r.Context())),
				}
				if err != nil {
					attrs = append(attrs, slog.String("error", err.Error()))
				}
				cfg.Logger.Warn("authentication failed", attrs...)
				recorder.IncAuthResult(metrics.AuthRejected, reason)
				writeAuthError(w)
			}

			token, ok := bearerToken(r)
			if !ok {
				reject("missing_token", nil)
				return
			}

			claims, err := cfg.Verifier.Verify(r.Context(), token)
			if err != nil {
				reject(auth.Reason(err), err)
				return
			}

			user, err := cfg.Mirror.Mirror(r.Context(), claims)
			if err != nil {
				cfg.Logger.Error("identity mirror failed",
					slog.String("error", err.Error()),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				reject("mirror_failed", nil)
				return
			}

			cfg.Logger.Debug("authentication successful",
				slog.String("user_id", user.ID),
				slog.String("endpoint", r.Method+" "+r.URL.Path),
				slog.String("request_id", GetRequestID(r.Context())),
			)
			recorder.IncAuthResult(metrics.AuthAccepted, "")

			ctx := auth.ContextWithPrincipal(r.Context(), &model.Principal{
				User:    user,
				Subject: claims.Subject,
				Issuer:  claims.Issuer,
			})
			r = r.WithContext(ctx)
			recordPrincipal(r)

			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
// The scheme is matched case-insensitively.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}

// writeAuthError writes a 401 Unauthorized response.
// Uses the same message for all auth failures to prevent enumeration.
func writeAuthError(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer`)
	writeJSONError(w, http.StatusUnauthorized, "Unauthorized")
}

type principalHolder struct {
	principal *model.Principal
}

const principalHolderKey contextKey = "principal_holder"

func withPrincipalHolder(ctx context.Context, h *principalHolder) context.Context {
	return context.WithValue(ctx, principalHolderKey, h)
}

func principalHolderFrom(ctx context.Context) *principalHolder {
	h, _ := ctx.Value(principalHolderKey).(*principalHolder)
	return h
}
