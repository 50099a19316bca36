package endpoint_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/macrat/telecache/internal/endpoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("OK"))
})

func TestWithBasicAuth(t *testing.T) {
	tests := []struct {
		Input              string
		Wrapped            bool
		Username, Password string
	}{
		{"", false, "", ""},
		{"hello", true, "hello", ""},
		{"foo:bar", true, "foo", "bar"},
		{":bar", true, "", "bar"},
		{"abc:def:ghi", true, "abc", "def:ghi"},
	}

	for _, tt := range tests {
		t.Run(tt.Input, func(t *testing.T) {
			h := endpoint.WithBasicAuth(okHandler, tt.Input)

			a, ok := h.(endpoint.BasicAuth)
			require.Equal(t, tt.Wrapped, ok)
			if !ok {
				return
			}

			assert.Equal(t, tt.Username, a.Username)
			assert.Equal(t, tt.Password, a.Password)
			assert.Equal(t, endpoint.PublicPaths, a.Public)
		})
	}
}

func TestBasicAuth_ServeHTTP(t *testing.T) {
	h := endpoint.WithBasicAuth(okHandler, "foo:bar")

	tests := []struct {
		Name       string
		Path       string
		Credential []string
		Code       int
	}{
		{"valid", "/v1/tiers", []string{"foo", "bar"}, http.StatusOK},
		{"wrong-user", "/v1/tiers", []string{"baz", "bar"}, http.StatusUnauthorized},
		{"wrong-password", "/v1/tiers", []string{"foo", "baz"}, http.StatusUnauthorized},
		{"empty-password", "/v1/tiers", []string{"foo", ""}, http.StatusUnauthorized},
		{"missing", "/v1/tiers", nil, http.StatusUnauthorized},
		{"metrics", "/metrics", nil, http.StatusUnauthorized},
		{"healthz", "/healthz", nil, http.StatusOK},
		{"healthz-subpath", "/healthz/extra", nil, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.Name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.Path, nil)
			if tt.Credential != nil {
				req.SetBasicAuth(tt.Credential[0], tt.Credential[1])
			}

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.Code, rec.Code)

			if tt.Code == http.StatusUnauthorized {
				assert.Equal(t, `Basic realm="telecache", charset="UTF-8"`, rec.Header().Get("WWW-Authenticate"))
				assert.JSONEq(t, `{"error": "unauthorized", "message": "credentials are required"}`, rec.Body.String())
			} else {
				assert.Equal(t, "OK", rec.Body.String())
			}
		})
	}
}
