package ports

import (
	"context"

	"github.com/labwire/orderdesk/pkg/domain"
)

// CatalogQuery is an enriched similarity query.
type CatalogQuery struct {
	Text     string
	Category string // Optional material category filter
	Limit    int
}

// CatalogSearcher looks up products by similarity.
// Results are ranked best first. Search is idempotent and may be retried.
type CatalogSearcher interface {
	Search(ctx context.Context, q CatalogQuery) ([]domain.Product, error)
}
