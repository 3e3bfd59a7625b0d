package gumroad

import (
	"encoding/json"

	"github.com/shopspring/decimal"
	"github.com/sinanisler/gumroad-api/utils"
)

// Sale is one record from the Gumroad sales feed. Raw preserves the payload
// verbatim for audit.
type Sale struct {
	ID                string      `json:"id"`
	Email             string      `json:"email"`
	ProductId         string      `json:"product_id"`
	ProductName       string      `json:"product_name"`
	Price             json.Number `json:"price"` // cents
	Refunded          bool        `json:"refunded"`
	PartiallyRefunded bool        `json:"partially_refunded"`
	Chargedback       bool        `json:"chargedback"`
	SubscriptionId    string      `json:"subscription_id"`
	Cancelled         bool        `json:"cancelled"`
	Ended             bool        `json:"ended"`
	CreatedAt         string      `json:"created_at"`

	Raw json.RawMessage `json:"-"`
}

// IsRefund reports whether this sale carries any of the refund flags.
func (s Sale) IsRefund() bool {
	return s.Refunded || s.PartiallyRefunded || s.Chargedback
}

// IsSubscriptionTermination reports whether this sale represents a cancelled
// or ended subscription. A termination flag without a subscription id is
// treated as noise on a plain sale.
func (s Sale) IsSubscriptionTermination() bool {
	return s.SubscriptionId != "" && (s.Cancelled || s.Ended)
}

// PriceDecimal converts the cent amount to a currency value.
func (s Sale) PriceDecimal() decimal.Decimal {
	return utils.DecimalFromNumber(s.Price).Shift(-2)
}

// Product is one entry from the products listing, used by the settings UI.
type Product struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Published bool   `json:"published"`
}
