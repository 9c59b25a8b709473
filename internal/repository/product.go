package repository

import (
	"context"
	"fmt"

	"github.com/saturnino-fabrica-de-software/derma/internal/domain"
	"github.com/saturnino-fabrica-de-software/derma/internal/recommend"
)

// ProductRepository is the Postgres product catalog
type ProductRepository struct {
	pool PgxPool
}

func NewProductRepository(pool PgxPool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

func (r *ProductRepository) ProductsForConditions(ctx context.Context, labels []domain.ConditionLabel) ([]domain.Product, error) {
	products := make([]domain.Product, 0)
	if len(labels) == 0 {
		return products, nil
	}

	// Mapped categories are lowercase; the query lowers the stored column to match
	var categories []string
	for _, label := range labels {
		categories = append(categories, recommend.CategoriesFor(label)...)
	}

	query := `
		SELECT id, name, category, ingredients, target_conditions
		FROM products
		WHERE active AND (target_conditions && $1 OR lower(category) = ANY($2))
		ORDER BY id
	`

	rows, err := r.pool.Query(ctx, query, toStrings(labels), categories)
	if err != nil {
		return nil, domain.ErrCatalogUnavailable.WithError(fmt.Errorf("query products: %w", err))
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p       domain.Product
			targets []string
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Ingredients, &targets); err != nil {
			return nil, domain.ErrCatalogUnavailable.WithError(fmt.Errorf("scan product: %w", err))
		}
		p.TargetConditions = make([]domain.ConditionLabel, len(targets))
		for i, t := range targets {
			p.TargetConditions[i] = domain.ConditionLabel(t)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrCatalogUnavailable.WithError(fmt.Errorf("iterate products: %w", err))
	}
	return products, nil
}

var _ recommend.Catalog = (*ProductRepository)(nil)
