package pricelist

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/nxt-spp/pricelist-pipeline/constants"
	"github.com/nxt-spp/pricelist-pipeline/internal/common"
)

const catalogBatchSize = 500

// markDuplicates flags every product whose SKU collides with another row in
// the same batch and records the colliding row numbers.
func markDuplicates(products []Product, hooks Hooks) {
	bySKU := map[string][]int{}
	for i := range products {
		if sku := products[i].SupplierSKU; sku != "" {
			bySKU[sku] = append(bySKU[sku], i)
		}
	}

	skus := make([]string, 0, len(bySKU))
	for sku := range bySKU {
		skus = append(skus, sku)
	}
	sort.Strings(skus)

	for _, sku := range skus {
		indices := bySKU[sku]
		if len(indices) < 2 {
			continue
		}
		rows := make([]string, len(indices))
		for i, idx := range indices {
			rows[i] = fmt.Sprintf("%d", products[idx].RowNumber)
		}
		msg := fmt.Sprintf("duplicate SKU %q in rows %s", sku, strings.Join(rows, ", "))
		hooks.emitWarning(msg)
		for _, idx := range indices {
			products[idx].IsDuplicate = true
			products[idx].ValidationIssues = append(products[idx].ValidationIssues, Issue{
				Field:    "supplier_sku",
				Severity: constants.ValidationWarning,
				Message:  msg,
				Value:    sku,
			})
			if products[idx].ValidationStatus == constants.ValidationValid {
				products[idx].ValidationStatus = constants.ValidationWarning
			}
		}
	}
}

// matchCatalog looks up existing catalog entries for the supplier in bounded
// batches and marks matched products as not-new.
func (w *Worker) matchCatalog(ctx context.Context, supplierID uuid.UUID, products []Product, hooks Hooks) error {
	if supplierID == uuid.Nil {
		return nil
	}
	skus := make([]string, 0, len(products))
	seen := map[string]struct{}{}
	for i := range products {
		sku := products[i].SupplierSKU
		if sku == "" {
			continue
		}
		if _, dup := seen[sku]; dup {
			continue
		}
		seen[sku] = struct{}{}
		skus = append(skus, sku)
	}
	if len(skus) == 0 {
		return nil
	}

	matched := map[string]uuid.UUID{}
	for start := 0; start < len(skus); start += catalogBatchSize {
		if err := ctx.Err(); err != nil {
			return common.NewError(common.CodeCancelled, "extraction cancelled", err)
		}
		end := start + catalogBatchSize
		if end > len(skus) {
			end = len(skus)
		}
		found, err := w.catalog.LookupSKUs(ctx, supplierID, skus[start:end])
		if err != nil {
			return common.NewError(common.CodeExtractionFailed, "catalog lookup", err)
		}
		for sku, id := range found {
			matched[sku] = id
		}
		hooks.emitProgress(70 + 15*end/len(skus))
	}

	for i := range products {
		if id, ok := matched[products[i].SupplierSKU]; ok {
			idCopy := id
			products[i].IsNew = false
			products[i].MatchedProductID = &idCopy
		}
	}
	return nil
}

// applyBusinessRules runs the final per-product validation: required fields
// present and well-typed, brand/category recommended.
func applyBusinessRules(products []Product) {
	for i := range products {
		p := &products[i]
		var issues []Issue

		if p.SupplierSKU == "" {
			issues = append(issues, Issue{Field: "supplier_sku", Severity: constants.ValidationInvalid, Message: "supplier SKU is required"})
		}
		if p.Name == "" {
			issues = append(issues, Issue{Field: "name", Severity: constants.ValidationInvalid, Message: "product name is required"})
		}
		if !p.Price.IsPositive() {
			issues = append(issues, Issue{Field: "price", Severity: constants.ValidationInvalid, Message: "price must be a positive number", Value: p.Price.String()})
		}
		if p.UOM == "" {
			issues = append(issues, Issue{Field: "uom", Severity: constants.ValidationInvalid, Message: "unit of measure is required"})
		}
		if p.Brand == "" {
			issues = append(issues, Issue{Field: "brand", Severity: constants.ValidationWarning, Message: "brand is recommended"})
		}
		if p.Category == "" {
			issues = append(issues, Issue{Field: "category", Severity: constants.ValidationWarning, Message: "category is recommended"})
		}

		if len(issues) == 0 {
			continue
		}
		p.ValidationIssues = append(p.ValidationIssues, issues...)
		invalid := false
		for _, issue := range issues {
			if issue.Severity == constants.ValidationInvalid {
				invalid = true
				break
			}
		}
		if invalid {
			p.ValidationStatus = constants.ValidationInvalid
		} else if p.ValidationStatus == constants.ValidationValid {
			p.ValidationStatus = constants.ValidationWarning
		}
	}
}

const maxWarnings = 100

// collectWarnings gathers the warning-severity issues into a deduplicated,
// capped, human-readable list for the result payload.
func collectWarnings(products []Product) []string {
	seen := map[string]struct{}{}
	var warnings []string
	for i := range products {
		for _, issue := range products[i].ValidationIssues {
			if issue.Severity != constants.ValidationWarning {
				continue
			}
			msg := fmt.Sprintf("row %d: %s", products[i].RowNumber, issue.Message)
			if _, dup := seen[msg]; dup {
				continue
			}
			seen[msg] = struct{}{}
			warnings = append(warnings, msg)
			if len(warnings) >= maxWarnings {
				return warnings
			}
		}
	}
	return warnings
}
