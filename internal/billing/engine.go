package billing

import (
	"github.com/noah-isme/backend-properti/internal/money"
)

// ItemType classifies an invoice line item.
type ItemType string

const (
	ItemTypeRent    ItemType = "rent"
	ItemTypeCharge  ItemType = "charge"
	ItemTypePenalty ItemType = "penalty"
	ItemTypeDeposit ItemType = "deposit"
	ItemTypeOther   ItemType = "other"
)

// Item is a single invoice line. Items are immutable once the invoice
// leaves a mutable status.
type Item struct {
	Description string   `json:"description"`
	Amount      float64  `json:"amount"`
	Type        ItemType `json:"type"`
}

// Totals is the financial summary of an invoice.
type Totals struct {
	Subtotal     float64 `json:"subtotal"`
	Tax          float64 `json:"tax"`
	Total        float64 `json:"total"`
	NetBeforeVAT float64 `json:"netIncomeBeforeVat"`
	NetAfterVAT  float64 `json:"netIncomeAfterVat"`
}

// CalculateTotals sums the line items and applies tax. A VAT rate, when
// present, wins over an explicit tax amount; with neither the tax is zero.
// Pure function: identical inputs always produce identical totals.
func CalculateTotals(items []Item, explicitTax *float64, vatRate *float64, decimals int) Totals {
	subtotal := 0.0
	for _, it := range items {
		subtotal += it.Amount
	}
	subtotal = money.RoundHalfUp(subtotal, decimals)

	var tax float64
	switch {
	case vatRate != nil:
		tax = money.RoundHalfUp(subtotal**vatRate/100, decimals)
	case explicitTax != nil:
		tax = *explicitTax
	}

	total := money.RoundHalfUp(subtotal+tax, decimals)
	return Totals{
		Subtotal:     subtotal,
		Tax:          tax,
		Total:        total,
		NetBeforeVAT: subtotal,
		NetAfterVAT:  total,
	}
}
