// Package catalog implements ports.CatalogSearcher: an HTTP client for the
// vector-search service and a static YAML catalog for development.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/labwire/orderdesk/internal/logging"
	"github.com/labwire/orderdesk/pkg/domain"
	"github.com/labwire/orderdesk/pkg/ports"
)

// DefaultTimeout bounds a single search request.
const DefaultTimeout = 10 * time.Second

type retrieveRequest struct {
	Query    string `json:"query"`
	Category string `json:"category,omitempty"`
	Limit    int    `json:"limit"`
}

type retrieveResult struct {
	Content  string         `json:"content"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata"`
}

type retrieveResponse struct {
	Results []retrieveResult `json:"results"`
}

// HTTPSearcher queries the vector-search service with POST {base}/retrieve.
// Each result carries the product in its metadata (product_code, product_name);
// remaining metadata becomes product attributes.
type HTTPSearcher struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

// HTTPOption configures the HTTPSearcher.
type HTTPOption func(*HTTPSearcher)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPSearcher) {
		if c != nil {
			s.client = c
		}
	}
}

// WithAPIKey sends the key as a bearer token.
func WithAPIKey(key string) HTTPOption {
	return func(s *HTTPSearcher) {
		s.apiKey = key
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) HTTPOption {
	return func(s *HTTPSearcher) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewHTTPSearcher creates a client for the service at baseURL.
func NewHTTPSearcher(baseURL string, opts ...HTTPOption) *HTTPSearcher {
	s := &HTTPSearcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: DefaultTimeout},
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search implements ports.CatalogSearcher.
func (s *HTTPSearcher) Search(ctx context.Context, q ports.CatalogQuery) ([]domain.Product, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	body, err := json.Marshal(retrieveRequest{Query: q.Text, Category: q.Category, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/retrieve", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("catalog search: %w", domain.ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("catalog search: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var decoded retrieveResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	products := make([]domain.Product, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		if p, ok := toProduct(r); ok {
			products = append(products, p)
		}
	}
	sort.SliceStable(products, func(i, j int) bool {
		return products[i].Score > products[j].Score
	})
	if len(products) > limit {
		products = products[:limit]
	}

	s.logger.Debug("catalog.search",
		"results", len(decoded.Results),
		"products", len(products),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return products, nil
}

func toProduct(r retrieveResult) (domain.Product, bool) {
	code, _ := r.Metadata["product_code"].(string)
	if code == "" {
		return domain.Product{}, false
	}
	name, _ := r.Metadata["product_name"].(string)
	if name == "" {
		name = firstLine(r.Content)
	}

	attrs := make(map[string]string)
	for k, v := range r.Metadata {
		if k == "product_code" || k == "product_name" || v == nil {
			continue
		}
		attrs[k] = fmt.Sprint(v)
	}
	if len(attrs) == 0 {
		attrs = nil
	}
	return domain.Product{Code: code, Name: name, Attributes: attrs, Score: r.Score}, true
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
