// Package admin is the HTTP client side of the proxy's relationship
// with the admin aggregation service: registering the node (a
// lightweight heartbeat) and reporting batched query metrics, both
// against the same `/vt_node/register` endpoint the source proxy
// posts to.
package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// MetricHistoryRow is one aggregated metric bucket for a single SQL
// fingerprint over one reporting interval.
type MetricHistoryRow struct {
	SQLStr        string `json:"sqlStr"`
	DBServerPort  string `json:"dbServerPort"`
	DatabaseName  string `json:"databaseName"`
	AvgDuration   int64  `json:"avgDuration"`
	MaxDuration   int64  `json:"maxDuration"`
	MinDuration   int64  `json:"minDuration"`
	ExecCount     int    `json:"execCount"`
	CacheHitCount int    `json:"cacheHitCount"`
	CreatedAt     int64  `json:"createdAt"`
}

// registerParams is the request body posted to /vt_node/register,
// carrying the proxy's listening port and (for the periodic report)
// a batch of metric rows.
type registerParams struct {
	Port              string             `json:"port"`
	MetricHistoryList []MetricHistoryRow `json:"metricHistoryList"`
}

// dataWrapper is the envelope the admin service wraps every response
// in, regardless of endpoint.
type dataWrapper struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Success bool   `json:"success"`
}

// Client posts node heartbeats and metric batches to the admin
// service's register endpoint.
type Client struct {
	baseURL string
	port    string
	http    *http.Client
}

// New returns a Client that talks to baseURL (no trailing slash
// required) on behalf of the proxy listening on port.
func New(baseURL string, port uint16) *Client {
	return &Client{
		baseURL: baseURL,
		port:    fmt.Sprintf("%d", port),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Heartbeat registers node liveness with no metric payload, the way
// enable_node_live_refresh_job does on its own ~30s cadence, distinct
// from the metric reporter's batches.
func (c *Client) Heartbeat(ctx context.Context) error {
	return c.register(ctx, nil)
}

// ReportMetrics posts a batch of aggregated metric rows.
func (c *Client) ReportMetrics(ctx context.Context, rows []MetricHistoryRow) error {
	return c.register(ctx, rows)
}

func (c *Client) register(ctx context.Context, rows []MetricHistoryRow) error {
	body, err := json.Marshal(registerParams{Port: c.port, MetricHistoryList: rows})
	if err != nil {
		return fmt.Errorf("admin: marshal register body: %w", err)
	}

	url := c.baseURL + "/vt_node/register"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("admin: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("admin: post %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("admin: %s returned status %d", url, resp.StatusCode)
	}

	var wrapper dataWrapper
	if err := json.NewDecoder(resp.Body).Decode(&wrapper); err != nil {
		return fmt.Errorf("admin: decode response: %w", err)
	}
	if !wrapper.Success {
		return fmt.Errorf("admin: register reported failure: %s", wrapper.Message)
	}
	return nil
}
