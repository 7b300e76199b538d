// Package feed reads the NWS product catalog.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/couchcryptid/hml-forecast-producer/internal/config"
	"github.com/couchcryptid/hml-forecast-producer/internal/domain"
)

const acceptJSONLD = "application/ld+json"

// maxErrorBody caps how much of a non-200 response is quoted in the error.
const maxErrorBody = 512

// Client fetches the product catalog for one product type.
// It implements pipeline.Fetcher.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	productType string
	userAgent   string
	logger      *slog.Logger
}

// NewClient creates a catalog client with the configured timeout budget and
// a small keep-alive pool.
func NewClient(cfg *config.Config, logger *slog.Logger) *Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.FeedConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   cfg.FeedWriteTimeout,
		ResponseHeaderTimeout: cfg.FeedReadTimeout,
		MaxIdleConns:          5,
		MaxIdleConnsPerHost:   5,
		MaxConnsPerHost:       10,
		IdleConnTimeout:       30 * time.Second,
	}
	return &Client{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   cfg.FeedPoolTimeout + cfg.FeedConnectTimeout + cfg.FeedWriteTimeout + cfg.FeedReadTimeout,
		},
		baseURL:     cfg.FeedURL,
		productType: cfg.FeedProductType,
		userAgent:   cfg.FeedUserAgent,
		logger:      logger,
	}
}

// Fetch retrieves the current catalog and returns its listings in feed order.
// Any transport, status, or decoding failure wraps domain.ErrFetch.
func (c *Client) Fetch(ctx context.Context) ([]domain.RawProduct, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse feed url: %w", domain.ErrFetch, err)
	}
	q := u.Query()
	q.Set("type", c.productType)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %w", domain.ErrFetch, err)
	}
	req.Header.Set("Accept", acceptJSONLD)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%w: status %d: %s", domain.ErrFetch, resp.StatusCode, body)
	}

	var doc map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", domain.ErrFetch, err)
	}

	products, err := decodeCatalog(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrFetch, err)
	}
	c.logger.Debug("fetched product catalog", "product_type", c.productType, "listings", len(products))
	return products, nil
}
