package middleware

import (
	"net/http"
	"regexp"

	"github.com/google/uuid"

	"github.com/doncapon/yemisshop-sub004/pkg/logger"
)

const requestIDHeader = "X-Request-Id"

// upstream ids are echoed only when they are short and log-safe
var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,64}$`)

// RequestID tags every request with an id that is echoed back to the caller,
// stored on the context and attached to every log line.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get(requestIDHeader)
			if !requestIDPattern.MatchString(reqID) {
				reqID = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, reqID)

			ctx := WithRequestID(r.Context(), reqID)
			if logg != nil {
				ctx = logg.WithRequestID(ctx, reqID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
