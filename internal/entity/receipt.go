package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"receipt-bot/constants"
)

// ReceiptItem is one validated line of a receipt. Price is the original
// unit price before discount; Discount is stored non-positive and applies
// to the whole line: line total = price*quantity + discount.
type ReceiptItem struct {
	Name        string             `json:"name"`
	Price       decimal.Decimal    `json:"price"`    // 2 fractional digits
	Quantity    decimal.Decimal    `json:"quantity"` // 3 fractional digits, supports weights
	Category    constants.Category `json:"category"`
	Subcategory string             `json:"subcategory,omitempty"`
	Discount    decimal.Decimal    `json:"discount"` // <= 0
}

// LineTotal returns price*quantity + discount. May be negative in edge
// cases (tolerated, not rejected).
func (i ReceiptItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(i.Quantity).Add(i.Discount)
}

// ReceiptData is a validated receipt as produced by the validator.
// Instances are constructed once at ingestion and not mutated afterwards.
type ReceiptData struct {
	StoreName     string                  `json:"store_name"`
	Date          string                  `json:"date"` // normalized YYYY-MM-DD
	PaymentMethod constants.PaymentMethod `json:"payment_method"`
	Total         decimal.Decimal         `json:"total"`
	ReceiptNumber *string                 `json:"receipt_number,omitempty"`
	Items         []ReceiptItem           `json:"items"`

	// Metadata, not used for validation.
	ProcessingMethod string  `json:"processing_method,omitempty"`
	Confidence       float64 `json:"confidence,omitempty"`
}

// ComputedTotal sums line totals across all items.
func (r *ReceiptData) ComputedTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, it := range r.Items {
		sum = sum.Add(it.LineTotal())
	}
	return sum
}

// Receipt is the persisted record shape, keyed by (user_id, id).
type Receipt struct {
	ID            uuid.UUID               `json:"id"`
	UserID        int64                   `json:"user_id"`
	StoreName     string                  `json:"store_name"`
	Date          time.Time               `json:"date"`
	Total         decimal.Decimal         `json:"total"`
	PaymentMethod constants.PaymentMethod `json:"payment_method"`
	ReceiptNumber *string                 `json:"receipt_number,omitempty"`
	ImageURL      string                  `json:"image_url,omitempty"`
	ContentHash   string                  `json:"content_hash,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
	Items         []ReceiptItem           `json:"items"`
}
