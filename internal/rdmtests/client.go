package rdmtests

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rdmtests/console/internal/metrics"
	"github.com/rdmtests/console/internal/notify"
)

const (
	DefaultTimeout    = 30 * time.Second
	DefaultRunTimeout = 30 * time.Minute
)

// Client is the single path for all traffic to the RDM test server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	notifier   notify.Notifier
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	timeout    time.Duration
	runTimeout time.Duration

	mu        sync.Mutex
	timestamp Token
}

type Option func(*Client)

func WithNotifier(n notify.Notifier) Option {
	return func(c *Client) { c.notifier = n }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithTimeout bounds the metadata exchanges. A zero value keeps the default.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRunTimeout bounds RunTests and RunDiscovery, which block on the server
// until the whole run or discovery has finished. A zero value keeps the default.
func WithRunTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.runTimeout = d
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		logger:     zerolog.Nop(),
		timeout:    DefaultTimeout,
		runTimeout: DefaultRunTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LastTimestamp is the timestamp of the most recent successful exchange.
func (c *Client) LastTimestamp() Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timestamp
}

// Query sends one request and decodes the reply into out. When the server
// reports status false, or sends well-formed JSON that does not fit the
// schema of endpoint, the message is published as an error notification and
// a *ProtocolError is returned. On status false out is still populated.
func (c *Client) Query(ctx context.Context, endpoint string, params url.Values, out Response) error {
	start := time.Now()
	err := c.query(ctx, endpoint, params, out)

	outcome := metrics.OutcomeOK
	var protoErr *ProtocolError
	switch {
	case errors.As(err, &protoErr):
		outcome = metrics.OutcomeProtocolError
	case err != nil:
		outcome = metrics.OutcomeTransportError
	}
	c.metrics.RecordExchange(endpoint, outcome, time.Since(start))

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("outcome", outcome).
		Dur("took", time.Since(start)).
		Msg("Exchange finished")
	return err
}

// timeoutFor returns the deadline applied to one exchange with endpoint.
func (c *Client) timeoutFor(endpoint string) time.Duration {
	switch endpoint {
	case EndpointRunTests, EndpointDiscovery:
		return c.runTimeout
	default:
		return c.timeout
	}
}

func (c *Client) query(ctx context.Context, endpoint string, params url.Values, out Response) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeoutFor(endpoint))
	defer cancel()

	body, err := c.get(ctx, endpoint, params)
	if err != nil {
		return err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return &TransportError{Endpoint: endpoint, Err: fmt.Errorf("failed to read response: %w", err)}
	}
	if err := json.Unmarshal(data, out); err != nil {
		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			return &TransportError{Endpoint: endpoint, Err: fmt.Errorf("failed to parse response: %w", err)}
		}
		return c.protocolError(endpoint, fmt.Sprintf("Malformed %s response: %v", endpoint, err))
	}

	env := out.envelope()
	if !env.Status {
		return c.protocolError(endpoint, env.Message)
	}

	c.mu.Lock()
	c.timestamp = env.Timestamp
	c.mu.Unlock()
	return nil
}

func (c *Client) protocolError(endpoint, message string) error {
	if c.notifier != nil {
		c.notifier.Clear()
		c.notifier.Notify(notify.Error(message))
	}
	return &ProtocolError{Endpoint: endpoint, Message: message}
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values) (io.ReadCloser, error) {
	apiURL := fmt.Sprintf("%s/%s", c.baseURL, endpoint)
	if len(params) > 0 {
		apiURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, &TransportError{Endpoint: endpoint, Err: fmt.Errorf("failed to create request: %w", err)}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Endpoint: endpoint, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, &TransportError{
			Endpoint: endpoint,
			Err:      fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data))),
		}
	}
	return resp.Body, nil
}

func universeParams(universe int) url.Values {
	return url.Values{"u": []string{strconv.Itoa(universe)}}
}

func (c *Client) GetUniverses(ctx context.Context) (*UniversesResponse, error) {
	var resp UniversesResponse
	err := c.Query(ctx, EndpointUniverses, nil, &resp)
	return &resp, err
}

func (c *Client) GetDevices(ctx context.Context, universe int) (*DevicesResponse, error) {
	var resp DevicesResponse
	err := c.Query(ctx, EndpointDevices, universeParams(universe), &resp)
	return &resp, err
}

func (c *Client) RunDiscovery(ctx context.Context, universe int) (*DevicesResponse, error) {
	var resp DevicesResponse
	err := c.Query(ctx, EndpointDiscovery, universeParams(universe), &resp)
	return &resp, err
}

func (c *Client) GetTestDefs(ctx context.Context) (*TestDefsResponse, error) {
	var resp TestDefsResponse
	err := c.Query(ctx, EndpointTestDefs, url.Values{"c": []string{"0"}}, &resp)
	return &resp, err
}

func (c *Client) GetTestCategories(ctx context.Context) (*CategoriesResponse, error) {
	var resp CategoriesResponse
	err := c.Query(ctx, EndpointTestCategories, nil, &resp)
	return &resp, err
}

func (c *Client) RunTests(ctx context.Context, req RunRequest) (*RunTestsResponse, error) {
	var resp RunTestsResponse
	err := c.Query(ctx, EndpointRunTests, req.Params(), &resp)
	return &resp, err
}

// DownloadResults fetches the raw log payload of a run. The body is not JSON.
func (c *Client) DownloadResults(ctx context.Context, uid string, timestamp Token) ([]byte, error) {
	start := time.Now()
	params := url.Values{}
	params.Set("uid", uid)
	params.Set("timestamp", string(timestamp))

	ctx, cancel := context.WithTimeout(ctx, c.timeoutFor(EndpointDownloadResults))
	defer cancel()

	body, err := c.get(ctx, EndpointDownloadResults, params)
	if err != nil {
		c.metrics.RecordExchange(EndpointDownloadResults, metrics.OutcomeTransportError, time.Since(start))
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		c.metrics.RecordExchange(EndpointDownloadResults, metrics.OutcomeTransportError, time.Since(start))
		return nil, &TransportError{Endpoint: EndpointDownloadResults, Err: fmt.Errorf("failed to read response: %w", err)}
	}
	c.metrics.RecordExchange(EndpointDownloadResults, metrics.OutcomeOK, time.Since(start))
	return data, nil
}
