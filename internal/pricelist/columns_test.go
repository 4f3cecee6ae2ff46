package pricelist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nxt-spp/pricelist-pipeline/constants"
)

func TestNormalizeHeader(t *testing.T) {
	assert.Equal(t, "unitprice", normalizeHeader("Unit Price"))
	assert.Equal(t, "priceexvat", normalizeHeader("Price (ex. VAT)"))
	assert.Equal(t, "stockcode", normalizeHeader("  STOCK_CODE  "))
	assert.Equal(t, "", normalizeHeader("---"))
}

func TestDetectHeaderRowSkipsPreamble(t *testing.T) {
	rows := [][]string{
		{"ACME Trading Pricelist"},
		{""},
		{"Effective", "2026-09-01"},
		{},
		{""},
		{"SKU", "Description", "Unit Price"},
		{"A100", "Widget", "10.00"},
	}

	idx, headers, ok := detectHeaderRow(rows)
	require.True(t, ok)
	assert.Equal(t, 5, idx)
	assert.Equal(t, []string{"SKU", "Description", "Unit Price"}, headers)
}

func TestDetectHeaderRowThreeColumnFallback(t *testing.T) {
	// No recognizable alias anywhere, but a row with three non-empty cells
	// still qualifies as a header.
	rows := [][]string{
		{"one column"},
		{"alpha", "beta", "gamma"},
		{"1", "2", "3"},
	}

	idx, _, ok := detectHeaderRow(rows)
	require.True(t, ok)
	assert.Equal(t, 1, idx)
}

func TestDetectHeaderRowNotFound(t *testing.T) {
	rows := [][]string{{"just"}, {"two", "cells"}}
	_, _, ok := detectHeaderRow(rows)
	// "two"/"cells" is two non-empty cells with no alias match.
	assert.False(t, ok)
}

func TestBuildColumnMapAliases(t *testing.T) {
	headers := []string{"Stock Code", "Product", "Brand", "Unit Price", "Qty Available", "Unit"}
	mapped := buildColumnMap(headers)

	byField := map[constants.ProductField]int{}
	for _, m := range mapped {
		byField[m.Field] = m.Index
	}
	assert.Equal(t, 0, byField[constants.FieldSKU])
	assert.Equal(t, 1, byField[constants.FieldDescription])
	assert.Equal(t, 2, byField[constants.FieldBrand])
	assert.Equal(t, 3, byField[constants.FieldPrice])
	assert.Equal(t, 4, byField[constants.FieldStockQty])
	assert.Equal(t, 5, byField[constants.FieldUOM])
}

func TestBuildColumnMapFirstMatchWins(t *testing.T) {
	// Two price-ish headers: only the first may claim the price field, and
	// a column is never assigned twice.
	headers := []string{"Item Code", "Description", "List Price", "Retail Price"}
	mapped := buildColumnMap(headers)

	count := 0
	for _, m := range mapped {
		if m.Field == constants.FieldPrice {
			count++
			assert.Equal(t, 2, m.Index)
		}
	}
	assert.Equal(t, 1, count)
}

func TestBuildColumnMapPositionalFallback(t *testing.T) {
	// Headers with no alias at all: column 0 is assumed to be the SKU and
	// column 1 the description.
	mapped := buildColumnMap([]string{"aaa", "bbb", "ccc"})

	byField := map[constants.ProductField]int{}
	for _, m := range mapped {
		byField[m.Field] = m.Index
	}
	assert.Equal(t, 0, byField[constants.FieldSKU])
	assert.Equal(t, 1, byField[constants.FieldDescription])
}

func TestBuildManualColumnMap(t *testing.T) {
	headers := []string{"Col A", "Col B", "Col C"}
	mapped := buildManualColumnMap(headers, map[string]string{
		"sku":         "Col B",
		"price":       "Col C",
		"description": "missing header",
	})

	byField := map[constants.ProductField]int{}
	for _, m := range mapped {
		byField[m.Field] = m.Index
	}
	assert.Equal(t, 1, byField[constants.FieldSKU])
	assert.Equal(t, 2, byField[constants.FieldPrice])
	_, found := byField[constants.FieldDescription]
	assert.False(t, found)
}
