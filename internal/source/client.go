package source

import (
	"context"
	"crypto/sha1" //nolint:gosec // legacy API-SECRET header requires SHA-1
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	entriesPath    = "/api/v1/entries.json"
	treatmentsPath = "/api/v1/treatments.json"

	// maxWindowRecords bounds a single window query; the upstream caps
	// result sets, so windows larger than this must be re-synced later.
	maxWindowRecords = 10000
)

// ClientOptions parameterise the Nightscout-compatible client.
type ClientOptions struct {
	BaseURL   string
	APISecret string
	APIToken  string
	Timeout   time.Duration
	UserAgent string
}

// Client fetches entries and treatments over the Nightscout REST API.
type Client struct {
	opts    ClientOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewClient constructs a telemetry client.
func NewClient(opts ClientOptions, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")

	return &Client{
		opts:    opts,
		logger:  logger.With().Str("component", "source_client").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchEntries retrieves glucose samples within [from, to].
func (c *Client) FetchEntries(ctx context.Context, from, to time.Time) ([]Entry, error) {
	params := url.Values{}
	params.Set("find[dateString][$gte]", from.UTC().Format("2006-01-02T15:04:05.000Z"))
	params.Set("find[dateString][$lte]", to.UTC().Format("2006-01-02T15:04:05.999Z"))
	params.Set("count", fmt.Sprintf("%d", maxWindowRecords))

	var entries []Entry
	if err := c.getJSON(ctx, entriesPath, params, &entries); err != nil {
		return nil, err
	}
	c.logger.Debug().Int("count", len(entries)).Msg("fetched glucose entries")
	return entries, nil
}

// FetchTreatments retrieves treatment events within [from, to].
func (c *Client) FetchTreatments(ctx context.Context, from, to time.Time) ([]Treatment, error) {
	params := url.Values{}
	params.Set("find[created_at][$gte]", from.UTC().Format("2006-01-02T15:04:05.000Z"))
	params.Set("find[created_at][$lte]", to.UTC().Format("2006-01-02T15:04:05.999Z"))
	params.Set("count", fmt.Sprintf("%d", maxWindowRecords))

	var treatments []Treatment
	if err := c.getJSON(ctx, treatmentsPath, params, &treatments); err != nil {
		return nil, err
	}
	c.logger.Debug().Int("count", len(treatments)).Msg("fetched treatment events")
	return treatments, nil
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out interface{}) error {
	if c.baseURL == "" {
		return fmt.Errorf("%w: base url not configured", ErrUnreachable)
	}

	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrUnreachable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: api status %d: %s", ErrUnreachable, resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.opts.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.APIToken)
		return
	}
	if c.opts.APISecret != "" {
		req.Header.Set("API-SECRET", hashSecret(c.opts.APISecret))
	}
}

// hashSecret hashes the API secret the way the legacy API expects.
func hashSecret(secret string) string {
	hasher := sha1.New() //nolint:gosec
	hasher.Write([]byte(secret))
	return hex.EncodeToString(hasher.Sum(nil))
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

var _ Source = (*Client)(nil)
