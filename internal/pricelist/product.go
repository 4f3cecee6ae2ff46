package pricelist

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nxt-spp/pricelist-pipeline/constants"
)

// Issue records one validation finding against a product field.
type Issue struct {
	Field    string                     `json:"field"`
	Severity constants.ValidationStatus `json:"severity"`
	Message  string                     `json:"message"`
	Value    string                     `json:"value,omitempty"`
}

// Product is one extracted pricelist row. Immutable after the validation
// pass completes.
type Product struct {
	RowNumber        int                        `json:"row_number"`
	SupplierSKU      string                     `json:"supplier_sku"`
	Barcode          string                     `json:"barcode,omitempty"`
	Name             string                     `json:"name"`
	Description      string                     `json:"description,omitempty"`
	Brand            string                     `json:"brand,omitempty"`
	Category         string                     `json:"category,omitempty"`
	Price            decimal.Decimal            `json:"price"`
	Currency         string                     `json:"currency"`
	UOM              string                     `json:"uom"`
	StockQty         *int                       `json:"stock_qty,omitempty"`
	ValidationStatus constants.ValidationStatus `json:"validation_status"`
	ValidationIssues []Issue                    `json:"validation_issues"`
	IsDuplicate      bool                       `json:"is_duplicate"`
	IsNew            bool                       `json:"is_new"`
	MatchedProductID *uuid.UUID                 `json:"matched_product_id,omitempty"`
}

// Stats summarizes one extraction run.
type Stats struct {
	TotalRows            int   `json:"total_rows"`
	ValidProducts        int   `json:"valid_products"`
	ProductsWithWarnings int   `json:"products_with_warnings"`
	InvalidProducts      int   `json:"invalid_products"`
	NewProducts          int   `json:"new_products"`
	ExistingProducts     int   `json:"existing_products"`
	DuplicateSKUs        int   `json:"duplicate_skus"`
	ProcessingTimeMS     int64 `json:"processing_time_ms"`
}

// Result is the unit stored in the result cache. Immutable once produced.
type Result struct {
	JobID       uuid.UUID `json:"job_id"`
	UploadID    uuid.UUID `json:"upload_id"`
	ContentHash string    `json:"content_hash,omitempty"`
	Products    []Product `json:"products"`
	Stats       Stats     `json:"stats"`
	Errors      []string  `json:"errors"`
	Warnings    []string  `json:"warnings"`
	ExtractedAt time.Time `json:"extracted_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the result is past its expiry.
func (r *Result) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// computeStats tallies validation outcomes over the final product set.
func computeStats(products []Product) Stats {
	var s Stats
	s.TotalRows = len(products)
	for i := range products {
		switch products[i].ValidationStatus {
		case constants.ValidationValid:
			s.ValidProducts++
		case constants.ValidationWarning:
			s.ProductsWithWarnings++
		case constants.ValidationInvalid:
			s.InvalidProducts++
		}
		if products[i].IsNew {
			s.NewProducts++
		} else {
			s.ExistingProducts++
		}
		if products[i].IsDuplicate {
			s.DuplicateSKUs++
		}
	}
	return s
}
