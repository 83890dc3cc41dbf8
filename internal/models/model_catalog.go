package models

import "github.com/shopspring/decimal"

// Model describes a caller-facing model and the backend endpoint serving it.
type Model struct {
	Alias         string          `json:"alias"`
	Endpoint      string          `json:"endpoint"`
	Description   string          `json:"description,omitempty"`
	PricePerImage decimal.Decimal `json:"price_per_image"`
}
