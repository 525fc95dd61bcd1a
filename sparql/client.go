package sparql

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxResponseSize limits response bodies read from the store.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// Media types used on the wire.
const (
	ContentTypeForm    = "application/x-www-form-urlencoded"
	ContentTypeTurtle  = "text/turtle"
	AcceptResultsJSON  = "application/sparql-results+json"
	acceptAskFallbacks = AcceptResultsJSON + ", application/sparql-results+xml;q=0.9"
)

// DefaultPingPath is the Fuseki liveness endpoint.
const DefaultPingPath = "/$/ping"

// Client talks to a triple store server hosting one or more datasets.
type Client struct {
	baseURL    string
	pingPath   string
	httpClient *http.Client
	logger     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = logger
	}
}

// WithPingPath overrides the liveness endpoint path.
func WithPingPath(path string) ClientOption {
	return func(client *Client) {
		client.pingPath = path
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) ClientOption {
	return func(client *Client) {
		client.httpClient = &http.Client{Timeout: d}
	}
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		pingPath: DefaultPingPath,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// BaseURL returns the server base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Dataset returns a handle bound to one dataset. name may be a dataset name
// relative to the base URL or an absolute URL.
func (c *Client) Dataset(name string) *Dataset {
	return &Dataset{client: c, name: name, url: c.datasetURL(name)}
}

func (c *Client) datasetURL(name string) string {
	if strings.Contains(name, "://") {
		return strings.TrimRight(name, "/")
	}
	return c.baseURL + "/" + strings.Trim(name, "/")
}

// Ping checks the liveness endpoint. Any 2xx response is reachable.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, c.baseURL+c.pingPath, "", "", nil)
	return err
}

// Probe implements the monitor prober contract using Ping.
func (c *Client) Probe(ctx context.Context) error {
	return c.Ping(ctx)
}

// Update posts an update expression to a dataset's update endpoint.
func (c *Client) Update(ctx context.Context, dataset, payload string) error {
	form := url.Values{"update": {payload}}
	_, err := c.do(ctx, http.MethodPost, c.datasetURL(dataset)+"/update",
		ContentTypeForm, "", strings.NewReader(form.Encode()))
	return err
}

// Ask runs an ASK query against a dataset's query endpoint.
func (c *Client) Ask(ctx context.Context, dataset, query string) (bool, error) {
	body, err := c.query(ctx, dataset, query, acceptAskFallbacks)
	if err != nil {
		return false, err
	}
	return ParseAskResult(body)
}

// Select runs a SELECT query against a dataset's query endpoint.
func (c *Client) Select(ctx context.Context, dataset, query string) (*SelectResult, error) {
	body, err := c.query(ctx, dataset, query, AcceptResultsJSON)
	if err != nil {
		return nil, err
	}
	return ParseSelectResult(body)
}

// Upload posts Turtle data to a dataset's graph store endpoint, adding it to
// the default graph.
func (c *Client) Upload(ctx context.Context, dataset string, turtle []byte) error {
	_, err := c.do(ctx, http.MethodPost, c.datasetURL(dataset)+"/data",
		ContentTypeTurtle, "", bytes.NewReader(turtle))
	return err
}

func (c *Client) query(ctx context.Context, dataset, query, accept string) ([]byte, error) {
	endpoint := c.datasetURL(dataset) + "/query?" + url.Values{"query": {query}}.Encode()
	return c.do(ctx, http.MethodGet, endpoint, "", accept, nil)
}

// do sends one request and returns the body of a 2xx response. I/O failures
// are transient; non-2xx responses are classified by status.
func (c *Client) do(ctx context.Context, method, endpoint, contentType, accept string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("create request: %w", err))
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("%s %s: %w", method, endpoint, err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("read response body: %w", err))
	}

	c.logger.Debug("Triple store request",
		"method", method,
		"url", endpoint,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, classifyHTTPError(resp.StatusCode, respBody)
	}
	return respBody, nil
}

// Dataset is a Client bound to one dataset.
type Dataset struct {
	client *Client
	name   string
	url    string
}

// Name returns the configured dataset name.
func (d *Dataset) Name() string { return d.name }

// URL returns the dataset base URL.
func (d *Dataset) URL() string { return d.url }

// Update posts an update expression.
func (d *Dataset) Update(ctx context.Context, payload string) error {
	return d.client.Update(ctx, d.name, payload)
}

// Ask runs an ASK query.
func (d *Dataset) Ask(ctx context.Context, query string) (bool, error) {
	return d.client.Ask(ctx, d.name, query)
}

// Select runs a SELECT query.
func (d *Dataset) Select(ctx context.Context, query string) (*SelectResult, error) {
	return d.client.Select(ctx, d.name, query)
}

// Upload posts Turtle data.
func (d *Dataset) Upload(ctx context.Context, turtle []byte) error {
	return d.client.Upload(ctx, d.name, turtle)
}

// AskProber probes reachability with a trivial ASK query, for servers
// without a ping endpoint.
type AskProber struct {
	Dataset *Dataset
}

// Probe returns nil when the dataset answers the query.
func (p AskProber) Probe(ctx context.Context) error {
	ok, err := p.Dataset.Ask(ctx, "ASK {}")
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("dataset %s answered false to ASK {}", p.Dataset.Name())
	}
	return nil
}
