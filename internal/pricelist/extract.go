package pricelist

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/nxt-spp/pricelist-pipeline/constants"
)

// sanitizeText collapses runs of whitespace and trims the result.
func sanitizeText(value string) string {
	return strings.Join(strings.Fields(value), " ")
}

// parseDecimal reads a numeric cell tolerant of currency symbols, spaces and
// thousands separators ("R 1,299.50" -> 1299.50).
func parseDecimal(value string) (decimal.Decimal, bool) {
	var b strings.Builder
	for _, r := range value {
		switch {
		case r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		}
	}
	cleaned := b.String()
	if cleaned == "" || cleaned == "-" || cleaned == "." {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// extractRow builds one product from a data row via the column map.
// The second return is false when the row must be dropped (lenient mode,
// missing hard-required field).
func extractRow(row []string, rowNumber int, columns []ColumnMapping, cfg *Config) (Product, bool) {
	p := Product{
		RowNumber:        rowNumber,
		ValidationStatus: constants.ValidationValid,
		ValidationIssues: []Issue{},
		IsNew:            true,
	}

	cell := func(idx int) string {
		if idx < 0 || idx >= len(row) {
			return ""
		}
		return row[idx]
	}

	var priceSet bool
	var priceExVAT, priceIncVAT *decimal.Decimal

	for _, col := range columns {
		raw := cell(col.Index)
		switch col.Field {
		case constants.FieldSKU:
			p.SupplierSKU = sanitizeText(raw)
		case constants.FieldBarcode:
			p.Barcode = sanitizeText(raw)
		case constants.FieldDescription:
			desc := sanitizeText(raw)
			p.Name = desc
			p.Description = desc
		case constants.FieldBrand:
			p.Brand = sanitizeText(raw)
		case constants.FieldSeriesRange:
			p.Category = sanitizeText(raw)
		case constants.FieldPrice:
			if d, ok := parseDecimal(raw); ok {
				p.Price = d
				priceSet = true
			}
		case constants.FieldPriceExVAT:
			if d, ok := parseDecimal(raw); ok {
				priceExVAT = &d
			}
		case constants.FieldPriceIncVAT:
			if d, ok := parseDecimal(raw); ok {
				priceIncVAT = &d
			}
		case constants.FieldUOM:
			p.UOM = sanitizeText(raw)
		case constants.FieldStockQty:
			if d, ok := parseDecimal(raw); ok {
				qty := int(d.IntPart())
				p.StockQty = &qty
			}
		}
	}

	// Price fallback order: direct price, then ex-VAT, then inc-VAT
	// converted back through the configured rate.
	if !priceSet && priceExVAT != nil {
		p.Price = *priceExVAT
		priceSet = true
	}
	if !priceSet && priceIncVAT != nil {
		rate := decimal.NewFromFloat(1 + cfg.vatRate())
		p.Price = priceIncVAT.Div(rate).Round(4)
		priceSet = true
	}

	if p.UOM == "" {
		p.UOM = defaultUOM
	}
	p.Currency = cfg.currency()

	missing := p.SupplierSKU == "" || p.Name == "" || !priceSet || !p.Price.IsPositive()
	if missing {
		if !cfg.strict() {
			return Product{}, false
		}
		p.ValidationStatus = constants.ValidationInvalid
		p.ValidationIssues = append(p.ValidationIssues, missingFieldIssues(&p, priceSet)...)
	}
	return p, true
}

func missingFieldIssues(p *Product, priceSet bool) []Issue {
	var issues []Issue
	if p.SupplierSKU == "" {
		issues = append(issues, Issue{Field: "supplier_sku", Severity: constants.ValidationInvalid, Message: "supplier SKU is required"})
	}
	if p.Name == "" {
		issues = append(issues, Issue{Field: "name", Severity: constants.ValidationInvalid, Message: "product name is required"})
	}
	if !priceSet || !p.Price.IsPositive() {
		issues = append(issues, Issue{Field: "price", Severity: constants.ValidationInvalid, Message: "price must be a positive number", Value: p.Price.String()})
	}
	return issues
}
