package jwt

import (
	"context"
	"net/http"
	"strings"

	"trainchat/internal/pkg/errs"
	"trainchat/internal/pkg/logx"
	"trainchat/internal/pkg/resp"
)

type contextKey string

const (
	// ContextAuthPayloadKey is the key used to store the parsed jwt.Payload in the request Context.
	ContextAuthPayloadKey contextKey = "auth_payload"

	// QueryTokenParam carries the token on WebSocket upgrades, where browsers cannot set headers.
	QueryTokenParam = "token"
)

// RequireAuth rejects requests without a valid bearer token with ErrUnauthorized and
// stores the Payload in the context of the others. When allowQuery is set, the token may
// also come from the "token" query parameter.
func RequireAuth(secretKey string, allowQuery bool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := bearerToken(r)
			if tokenString == "" && allowQuery {
				tokenString = r.URL.Query().Get(QueryTokenParam)
			}
			if tokenString == "" {
				resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
				return
			}

			payload, err := ParseToken(tokenString, secretKey)
			if err != nil {
				logx.Warn("Rejected invalid or expired JWT.", "error", err.Error())
				resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
				return
			}

			ctx := context.WithValue(r.Context(), ContextAuthPayloadKey, payload)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken extracts the token of an "Authorization: Bearer <token>" header.
func bearerToken(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// GetPayloadFromContext extracts the authenticated Payload from the request Context, or
// nil outside RequireAuth.
func GetPayloadFromContext(r *http.Request) *Payload {
	payload, ok := r.Context().Value(ContextAuthPayloadKey).(*Payload)
	if !ok {
		return nil
	}
	return payload
}
