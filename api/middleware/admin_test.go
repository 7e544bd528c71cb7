package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminKey(t *testing.T) {
	var actor string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor = ActorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	cases := []struct {
		name       string
		configured string
		header     string
		actor      string
		want       int
		wantActor  string
	}{
		{name: "disabled", configured: "", header: "secret", want: http.StatusForbidden},
		{name: "missing", configured: "secret", want: http.StatusUnauthorized},
		{name: "mismatch", configured: "secret", header: "guess", want: http.StatusForbidden},
		{name: "default actor", configured: "secret", header: "secret", want: http.StatusNoContent, wantActor: "admin"},
		{name: "named actor", configured: "secret", header: "secret", actor: "ops@yemisshop", want: http.StatusNoContent, wantActor: "ops@yemisshop"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			actor = ""
			req := httptest.NewRequest(http.MethodPost, "/api/admin/v1/settings/refresh", nil)
			if tc.header != "" {
				req.Header.Set(adminKeyHeader, tc.header)
			}
			if tc.actor != "" {
				req.Header.Set(adminActorHeader, tc.actor)
			}
			rec := httptest.NewRecorder()
			AdminKey(tc.configured, nil)(next).ServeHTTP(rec, req)

			require.Equal(t, tc.want, rec.Code)
			assert.Equal(t, tc.wantActor, actor)
		})
	}
}
