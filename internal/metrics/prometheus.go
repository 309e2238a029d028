package metrics

import (
	"context"
	"fmt"
	"math"
	"time"

	promapi "github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	prommodel "github.com/prometheus/common/model"
	"go.uber.org/zap"

	"github.com/ninebot-ops/vmboard/internal/utils"
)

// Querier is the metrics collaborator: one PromQL query in, an optional
// scalar out. A nil result with a nil error means the series has no data.
type Querier interface {
	Query(ctx context.Context, query string) (*float64, error)
}

// Client queries the Prometheus HTTP API. An empty URL yields a client that
// reports unavailable and returns no data, keeping the rest of the system
// functional without a metrics backend.
type Client struct {
	url    string
	api    promv1.API
	logger *zap.Logger
}

// NewClient builds a Prometheus client for the given base URL.
func NewClient(url string, logger *zap.Logger) (*Client, error) {
	if url == "" {
		logger.Warn("Prometheus URL not configured - metrics will be unavailable")
		return &Client{logger: logger}, nil
	}

	apiClient, err := promapi.NewClient(promapi.Config{Address: url})
	if err != nil {
		return nil, fmt.Errorf("failed to build prometheus client: %w", err)
	}
	logger.Info("Prometheus client configured", zap.String("url", url))
	return &Client{
		url:    url,
		api:    promv1.NewAPI(apiClient),
		logger: logger,
	}, nil
}

// URL returns the configured base URL, "" when unconfigured.
func (c *Client) URL() string {
	return c.url
}

// Available probes reachability with a trivial query. It is used for status
// reporting only and never gates fetches.
func (c *Client) Available(ctx context.Context) bool {
	if c.api == nil {
		return false
	}
	_, _, err := c.api.Query(ctx, "up", time.Now())
	return err == nil
}

// Query executes a PromQL query and returns the first sample rounded to one
// decimal, or nil when the result is empty or the client is unconfigured.
func (c *Client) Query(ctx context.Context, query string) (*float64, error) {
	if c.api == nil {
		return nil, nil
	}

	result, warnings, err := c.api.Query(ctx, query, time.Now())
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	if len(warnings) > 0 {
		c.logger.Debug("Prometheus query returned warnings",
			zap.Strings("warnings", warnings))
	}

	vector, ok := result.(prommodel.Vector)
	if !ok || vector.Len() == 0 {
		return nil, nil
	}
	sample := float64(vector[0].Value)
	if math.IsNaN(sample) || math.IsInf(sample, 0) {
		return nil, nil
	}
	rounded := utils.Round(sample)
	return &rounded, nil
}
