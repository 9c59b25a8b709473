package recommend

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/saturnino-fabrica-de-software/derma/internal/domain"
)

// Catalog is the read-only product lookup used by the analysis pipeline
type Catalog interface {
	// ProductsForConditions returns every product tagged with one of labels
	// or whose category treats one of them, ordered by product ID
	ProductsForConditions(ctx context.Context, labels []domain.ConditionLabel) ([]domain.Product, error)
}

type catalogEntry struct {
	ID               string   `json:"id" validate:"required"`
	Name             string   `json:"name" validate:"required"`
	Category         string   `json:"category" validate:"required"`
	Ingredients      []string `json:"ingredients"`
	TargetConditions []string `json:"target_conditions" validate:"dive,required"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// FileCatalog is an in-memory catalog loaded from a JSON array of products
type FileCatalog struct {
	products   []domain.Product
	byTag      map[domain.ConditionLabel][]int
	byCategory map[string][]int
}

// LoadFileCatalog reads and indexes a catalog file
func LoadFileCatalog(path string) (*FileCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.ErrCatalogUnavailable.WithError(fmt.Errorf("read catalog: %w", err))
	}

	var entries []catalogEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, domain.ErrCatalogUnavailable.WithError(fmt.Errorf("decode catalog %s: %w", path, err))
	}

	products := make([]domain.Product, 0, len(entries))
	for i, e := range entries {
		p, err := e.product()
		if err != nil {
			return nil, fmt.Errorf("catalog entry %d: %w", i, err)
		}
		products = append(products, p)
	}
	return NewFileCatalog(products)
}

func (e catalogEntry) product() (domain.Product, error) {
	if err := validate.Struct(e); err != nil {
		return domain.Product{}, err
	}

	tags := make([]domain.ConditionLabel, 0, len(e.TargetConditions))
	for _, t := range e.TargetConditions {
		label, err := domain.ParseConditionLabel(t)
		if err != nil {
			return domain.Product{}, err
		}
		tags = append(tags, label)
	}

	return domain.Product{
		ID:               e.ID,
		Name:             e.Name,
		Category:         strings.ToLower(strings.TrimSpace(e.Category)),
		Ingredients:      e.Ingredients,
		TargetConditions: tags,
	}, nil
}

// NewFileCatalog indexes products by tag and category. Product IDs must be unique.
func NewFileCatalog(products []domain.Product) (*FileCatalog, error) {
	sorted := make([]domain.Product, len(products))
	copy(sorted, products)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	c := &FileCatalog{
		products:   sorted,
		byTag:      make(map[domain.ConditionLabel][]int),
		byCategory: make(map[string][]int),
	}
	for i, p := range sorted {
		if i > 0 && sorted[i-1].ID == p.ID {
			return nil, fmt.Errorf("duplicate product id %q", p.ID)
		}
		for _, t := range p.TargetConditions {
			c.byTag[t] = append(c.byTag[t], i)
		}
		c.byCategory[p.Category] = append(c.byCategory[p.Category], i)
	}
	return c, nil
}

func (c *FileCatalog) Len() int {
	return len(c.products)
}

func (c *FileCatalog) ProductsForConditions(ctx context.Context, labels []domain.ConditionLabel) ([]domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seen := make(map[int]struct{})
	for _, label := range labels {
		for _, i := range c.byTag[label] {
			seen[i] = struct{}{}
		}
		for _, category := range conditionCategories[label] {
			for _, i := range c.byCategory[category] {
				seen[i] = struct{}{}
			}
		}
	}

	idx := make([]int, 0, len(seen))
	for i := range seen {
		idx = append(idx, i)
	}
	sort.Ints(idx)

	out := make([]domain.Product, len(idx))
	for n, i := range idx {
		out[n] = c.products[i]
	}
	return out, nil
}

var _ Catalog = (*FileCatalog)(nil)
