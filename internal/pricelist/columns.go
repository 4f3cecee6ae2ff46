package pricelist

import (
	"strings"

	"github.com/nxt-spp/pricelist-pipeline/constants"
)

// ColumnMapping associates one detected file column with a canonical field.
// Derived once per job from the header row; never persisted.
type ColumnMapping struct {
	Field  constants.ProductField
	Index  int
	Header string
}

const headerScanLimit = 80

// fieldProbeOrder is the order columns are matched against a header cell.
// SKU-ish names win over price-ish names when a header could be either, and
// the explicit price variants come after the direct price aliases so the
// ex/inc-VAT fallback only fires when no direct price column exists.
var fieldProbeOrder = []constants.ProductField{
	constants.FieldSKU,
	constants.FieldBarcode,
	constants.FieldDescription,
	constants.FieldBrand,
	constants.FieldSeriesRange,
	constants.FieldPrice,
	constants.FieldPriceExVAT,
	constants.FieldPriceIncVAT,
	constants.FieldVATAmount,
	constants.FieldUOM,
	constants.FieldStockQty,
}

// normalizeHeader folds a header cell to lowercase alphanumerics so alias
// matching survives punctuation, spacing and case differences.
func normalizeHeader(cell string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(cell)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func matchesField(normalized string, field constants.ProductField) bool {
	if normalized == "" {
		return false
	}
	for _, alias := range constants.ColumnAliases[field] {
		if strings.Contains(normalized, alias) {
			return true
		}
	}
	return false
}

// detectHeaderRow scans at most the first headerScanLimit rows for one that
// looks like a header: a SKU-ish column plus either a description-ish or
// price-ish column, or at least three recognizable non-empty cells. The
// first qualifying row wins.
func detectHeaderRow(rows [][]string) (int, []string, bool) {
	limit := len(rows)
	if limit > headerScanLimit {
		limit = headerScanLimit
	}
	for i := 0; i < limit; i++ {
		row := rows[i]
		var nonEmpty []string
		for _, cell := range row {
			if n := normalizeHeader(cell); n != "" {
				nonEmpty = append(nonEmpty, n)
			}
		}
		if len(nonEmpty) < 2 {
			continue
		}

		var hasSKU, hasDesc, hasPrice bool
		for _, n := range nonEmpty {
			if matchesField(n, constants.FieldSKU) {
				hasSKU = true
			}
			if matchesField(n, constants.FieldDescription) {
				hasDesc = true
			}
			if matchesField(n, constants.FieldPrice) || strings.Contains(n, "price") {
				hasPrice = true
			}
		}
		if (hasSKU && hasDesc) || (hasSKU && hasPrice) || len(nonEmpty) >= 3 {
			return i, row, true
		}
	}
	return 0, nil, false
}

// buildColumnMap maps headers to canonical fields, first match winning on
// both sides: a header claims at most one field and a field claims at most
// one header.
func buildColumnMap(headers []string) []ColumnMapping {
	var mapping []ColumnMapping
	taken := map[constants.ProductField]bool{}

	for idx, header := range headers {
		normalized := normalizeHeader(header)
		if normalized == "" {
			continue
		}
		for _, field := range fieldProbeOrder {
			if taken[field] || !matchesField(normalized, field) {
				continue
			}
			mapping = append(mapping, ColumnMapping{Field: field, Index: idx, Header: header})
			taken[field] = true
			break
		}
	}

	// Supplier files without a recognizable SKU column almost always lead
	// with it, and the description tends to follow.
	if !taken[constants.FieldSKU] && len(headers) > 0 {
		mapping = append(mapping, ColumnMapping{Field: constants.FieldSKU, Index: 0, Header: headers[0]})
	}
	if !taken[constants.FieldDescription] && len(headers) > 1 {
		mapping = append(mapping, ColumnMapping{Field: constants.FieldDescription, Index: 1, Header: headers[1]})
	}
	return mapping
}

// buildManualColumnMap resolves a caller-supplied field->header mapping
// against the actual header row.
func buildManualColumnMap(headers []string, manual map[string]string) []ColumnMapping {
	position := map[string]int{}
	for idx, h := range headers {
		if _, seen := position[h]; !seen {
			position[h] = idx
		}
	}
	var mapping []ColumnMapping
	for field, header := range manual {
		idx, ok := position[header]
		if !ok {
			continue
		}
		mapping = append(mapping, ColumnMapping{Field: constants.ProductField(field), Index: idx, Header: header})
	}
	return mapping
}
