package pricelist

import (
	"github.com/google/uuid"

	"github.com/nxt-spp/pricelist-pipeline/internal/common"
)

// ValidationMode controls what happens to rows missing a hard-required field.
type ValidationMode string

const (
	// ModeLenient drops rows missing sku, name or price.
	ModeLenient ValidationMode = "lenient"
	// ModeStrict keeps such rows, flagged invalid.
	ModeStrict ValidationMode = "strict"
)

// Config is the closed per-job extraction configuration.
type Config struct {
	SupplierID        uuid.UUID         `json:"supplier_id"`
	AutoDetectColumns bool              `json:"auto_detect_columns"`
	ColumnMapping     map[string]string `json:"column_mapping,omitempty"` // field -> header, used when auto-detect is off
	Delimiter         rune              `json:"delimiter,omitempty"`      // 0 = auto-detect
	SheetName         string            `json:"sheet_name,omitempty"`     // "" = first sheet
	SkipRows          int               `json:"skip_rows,omitempty"`
	VATRate           float64           `json:"vat_rate,omitempty"`
	ValidationMode    ValidationMode    `json:"validation_mode,omitempty"`
	CurrencyDefault   string            `json:"currency_default,omitempty"`
}

const (
	defaultVATRate  = 0.15
	defaultCurrency = "ZAR"
	defaultUOM      = "EA"
)

// DefaultConfig returns the configuration used when a caller supplies none.
func DefaultConfig(supplierID uuid.UUID) Config {
	return Config{
		SupplierID:        supplierID,
		AutoDetectColumns: true,
		VATRate:           defaultVATRate,
		ValidationMode:    ModeLenient,
		CurrencyDefault:   defaultCurrency,
	}
}

// Validate rejects configurations the worker cannot act on.
func (c *Config) Validate() error {
	if !c.AutoDetectColumns && len(c.ColumnMapping) == 0 {
		return common.NewError(common.CodeInvalidConfig, "column_mapping is required when auto_detect_columns is off", nil)
	}
	if c.VATRate < 0 || c.VATRate >= 1 {
		return common.NewError(common.CodeInvalidConfig, "vat_rate must be in [0, 1)", nil)
	}
	if c.SkipRows < 0 {
		return common.NewError(common.CodeInvalidConfig, "skip_rows must not be negative", nil)
	}
	switch c.ValidationMode {
	case "", ModeLenient, ModeStrict:
	default:
		return common.NewError(common.CodeInvalidConfig, "unknown validation_mode "+string(c.ValidationMode), nil)
	}
	return nil
}

func (c *Config) vatRate() float64 {
	if c.VATRate > 0 {
		return c.VATRate
	}
	return defaultVATRate
}

func (c *Config) currency() string {
	if c.CurrencyDefault != "" {
		return c.CurrencyDefault
	}
	return defaultCurrency
}

func (c *Config) strict() bool {
	return c.ValidationMode == ModeStrict
}
