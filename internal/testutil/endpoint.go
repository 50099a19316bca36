package testutil

import (
	"net/http/httptest"
	"testing"

	"github.com/macrat/telecache/internal/endpoint"
)

// StartTestServer serves the endpoints of a new Fixture.
func StartTestServer(t testing.TB) (*httptest.Server, *Fixture) {
	t.Helper()

	f := NewService(t)
	srv := httptest.NewServer(endpoint.New(f.Service, nil))
	t.Cleanup(srv.Close)

	return srv, f
}
