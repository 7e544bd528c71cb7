package middleware

import (
	"crypto/hmac"
	"net/http"
	"strings"

	"github.com/doncapon/yemisshop-sub004/api/responses"
	pkgerrors "github.com/doncapon/yemisshop-sub004/pkg/errors"
	"github.com/doncapon/yemisshop-sub004/pkg/logger"
)

const (
	adminKeyHeader   = "X-Admin-Key"
	adminActorHeader = "X-Admin-Actor"
	defaultActor     = "admin"
)

// AdminKey guards operator endpoints with a shared key. An empty configured
// key rejects every request.
func AdminKey(apiKey string, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "admin api disabled"))
				return
			}
			provided := strings.TrimSpace(r.Header.Get(adminKeyHeader))
			if provided == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "admin key required"))
				return
			}
			if !hmac.Equal([]byte(provided), []byte(apiKey)) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "invalid admin key"))
				return
			}

			actor := strings.TrimSpace(r.Header.Get(adminActorHeader))
			if actor == "" {
				actor = defaultActor
			}
			ctx := WithActor(r.Context(), actor)
			if logg != nil {
				ctx = logg.WithField(ctx, "actor", actor)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
