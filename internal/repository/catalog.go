package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// CatalogStore answers SKU lookups against the supplier product catalog.
type CatalogStore struct {
	db *sql.DB
}

func NewCatalogStore(db *sql.DB) *CatalogStore {
	return &CatalogStore{db: db}
}

// LookupSKUs maps the given supplier SKUs to existing product IDs. SKUs not
// in the catalog are simply absent from the returned map. Callers batch
// their input; one call is one query.
func (s *CatalogStore) LookupSKUs(ctx context.Context, supplierID uuid.UUID, skus []string) (map[string]uuid.UUID, error) {
	out := make(map[string]uuid.UUID, len(skus))
	if len(skus) == 0 {
		return out, nil
	}

	placeholders := make([]string, len(skus))
	args := make([]any, 0, len(skus)+1)
	args = append(args, supplierID.String())
	for i, sku := range skus {
		placeholders[i] = "$" + strconv.Itoa(i+2)
		args = append(args, sku)
	}

	query := fmt.Sprintf(`
		SELECT supplier_sku, product_id FROM supplier_product
		WHERE supplier_id = $1 AND supplier_sku IN (%s)`,
		strings.Join(placeholders, ", "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("looking up %d skus: %w", len(skus), err)
	}
	defer rows.Close()

	for rows.Next() {
		var sku, pid string
		if err := rows.Scan(&sku, &pid); err != nil {
			return nil, fmt.Errorf("scanning catalog row: %w", err)
		}
		id, err := uuid.Parse(pid)
		if err != nil {
			return nil, fmt.Errorf("malformed product id for sku %q: %w", sku, err)
		}
		out[sku] = id
	}
	return out, rows.Err()
}

// UpsertMapping records a supplier SKU to product mapping. Used by tests
// and backfill tooling.
func (s *CatalogStore) UpsertMapping(ctx context.Context, supplierID uuid.UUID, sku string, productID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO supplier_product (supplier_id, supplier_sku, product_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (supplier_id, supplier_sku) DO UPDATE SET product_id = EXCLUDED.product_id`,
		supplierID.String(), sku, productID.String())
	if err != nil {
		return fmt.Errorf("upserting mapping %s/%s: %w", supplierID, sku, err)
	}
	return nil
}
