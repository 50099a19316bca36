package endpoint_test

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/macrat/telecache/internal/validity"
	"github.com/stretchr/testify/require"
)

type response struct {
	Status int
	Header http.Header
	Body   string
}

func do(t *testing.T, c *http.Client, method, url string, header http.Header) response {
	t.Helper()

	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	for k, vs := range header {
		req.Header[k] = vs
	}

	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("failed to %s %s: %s", method, url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %s", err)
	}

	return response{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   strings.ReplaceAll(string(body), "\r\n", "\n"),
	}
}

func (r response) decode(t *testing.T, v any) {
	t.Helper()
	if err := json.Unmarshal([]byte(r.Body), v); err != nil {
		t.Fatalf("failed to decode response: %s\n%s", err, r.Body)
	}
}

func testSummary(n int) validity.Summary {
	return validity.Summary{Total: n, Valid: n}
}
