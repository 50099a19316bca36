package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/macrat/telecache/internal/clock"
	"github.com/macrat/telecache/internal/entity"
	"github.com/macrat/telecache/internal/logger"
	"github.com/macrat/telecache/internal/meta"
	"github.com/macrat/telecache/internal/syncerr"
	"go.uber.org/zap"
)

// maxBodySize limits how much of a response is read.
const maxBodySize = 64 << 20

// UserAgent is sent with every request.
var UserAgent = "telecache/" + meta.Version

// Config is the connection setting of the HTTP collectors.
type Config struct {
	BaseURL string
	Token   string

	// Timeout bounds a single HTTP round trip, on top of the governor's per-call deadline.
	Timeout time.Duration

	HTTPClient *http.Client
	Logger     *zap.SugaredLogger

	// Clock stamps the fetched records. It defaults to the real clock.
	Clock clock.Clock
}

// Basic is the HTTP collector that only knows the entity listing.
type Basic struct {
	base   *url.URL
	token  string
	client *http.Client
	log    *zap.SugaredLogger
	clock  clock.Clock
}

// NewBasic creates a Basic collector.
func NewBasic(cfg Config) (*Basic, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("collector base URL is required")
	}

	u, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid collector base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid collector base URL: unsupported scheme %q", u.Scheme)
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	l := cfg.Logger
	if l == nil {
		l = logger.Nop()
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}

	return &Basic{
		base:   u,
		token:  cfg.Token,
		client: client,
		log:    l,
		clock:  clk,
	}, nil
}

type wireEntity struct {
	ID        string                    `json:"id"`
	Name      string                    `json:"name"`
	Domain    string                    `json:"domain"`
	Reporting bool                      `json:"reporting"`
	Status    string                    `json:"status"`
	Windows   map[string]map[string]any `json:"windows"`
	AlertIDs  []string                  `json:"alert_ids"`
}

func (w wireEntity) record(fetchedAt time.Time) entity.Record {
	r := entity.Record{
		ID:        w.ID,
		Name:      w.Name,
		Domain:    strings.ToUpper(w.Domain),
		Reporting: w.Reporting,
		Status:    w.Status,
		AlertIDs:  w.AlertIDs,
		FetchedAt: fetchedAt,
	}
	if w.Windows != nil {
		r.Windows = make(map[string]entity.Measurements, len(w.Windows))
		for label, ms := range w.Windows {
			if ms == nil {
				r.Windows[label] = nil
			} else {
				r.Windows[label] = entity.Measurements(ms)
			}
		}
	}
	return r
}

// FetchAllEntities implements Collector.
//
// Entities that cannot be decoded are dropped; the rest of the listing is returned.
func (c *Basic) FetchAllEntities(ctx context.Context) ([]entity.Record, error) {
	var resp struct {
		Entities []json.RawMessage `json:"entities"`
	}
	if err := c.get(ctx, "/entities", nil, &resp); err != nil {
		return nil, err
	}

	now := c.clock.Now()
	rs := make([]entity.Record, 0, len(resp.Entities))
	for i, raw := range resp.Entities {
		var w wireEntity
		if err := json.Unmarshal(raw, &w); err != nil {
			c.log.Debugw("dropped undecodable entity", "index", i, "error", err)
			continue
		}
		rs = append(rs, w.record(now))
	}

	return rs, nil
}

func (c *Basic) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = c.base.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// get sends a GET request and decodes the JSON response into out.
func (c *Basic) get(ctx context.Context, path string, query url.Values, out any) error {
	target := c.endpoint(path, query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return syncerr.New(syncerr.ErrFatal, err, "failed to create request")
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return transportError(ctx, err, path)
	}
	defer resp.Body.Close()

	if err := statusError(resp, path, c.clock.Now()); err != nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return transportError(ctx, err, path)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return syncerr.New(syncerr.ErrMalformed, err, "%s", path)
	}
	return nil
}

func transportError(ctx context.Context, err error, path string) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return syncerr.New(syncerr.ErrTimeout, err, "%s", path)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return syncerr.New(syncerr.ErrTransient, err, "%s", path)
}

// statusError maps a non-2xx response to a tagged error.
func statusError(resp *http.Response, path string, now time.Time) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code <= 299:
		return nil
	case code == http.StatusTooManyRequests:
		if d, ok := RetryAfter(resp.Header.Get("Retry-After"), now); ok {
			return syncerr.New(syncerr.ErrRateLimited, nil, "%s: %s (retry after %s)", path, resp.Status, d)
		}
		return syncerr.New(syncerr.ErrRateLimited, nil, "%s: %s", path, resp.Status)
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return syncerr.New(syncerr.ErrFatal, nil, "%s: %s", path, resp.Status)
	case code == http.StatusNotFound:
		return syncerr.New(syncerr.ErrEmpty, nil, "%s: %s", path, resp.Status)
	case code == http.StatusRequestTimeout, code == http.StatusGatewayTimeout:
		return syncerr.New(syncerr.ErrTimeout, nil, "%s: %s", path, resp.Status)
	case code >= 500:
		return syncerr.New(syncerr.ErrTransient, nil, "%s: %s", path, resp.Status)
	default:
		return syncerr.New(syncerr.ErrMalformed, nil, "%s: unexpected status %s", path, resp.Status)
	}
}

// RetryAfter parses the Retry-After header, in either seconds or HTTP date form.
func RetryAfter(header string, now time.Time) (time.Duration, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, false
	}

	if sec, err := strconv.Atoi(header); err == nil && sec >= 0 {
		return time.Duration(sec) * time.Second, true
	}

	if t, err := http.ParseTime(header); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return d.Round(time.Second), true
	}

	return 0, false
}
