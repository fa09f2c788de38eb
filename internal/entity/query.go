package entity

import (
	"github.com/shopspring/decimal"

	"receipt-bot/constants"
)

// DateRange bounds receipts by transaction date (inclusive, YYYY-MM-DD).
type DateRange struct {
	Start string `json:"start,omitempty" validate:"omitempty,datetime=2006-01-02"`
	End   string `json:"end,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

// PriceRange bounds a price dimension; zero-value bounds mean [0, +inf).
type PriceRange struct {
	Min *float64 `json:"min,omitempty" validate:"omitempty,gte=0"`
	Max *float64 `json:"max,omitempty" validate:"omitempty,gte=0"`
}

// Filters is the full filter specification of a query plan. Receipt-level
// dimensions are resolved by the storage layer; item-level dimensions
// (Categories, ItemKeywords, ItemPriceRange) by the item filter.
type Filters struct {
	DateRange      *DateRange  `json:"date_range,omitempty"`
	StoreNames     []string    `json:"store_names,omitempty"`
	PaymentMethods []string    `json:"payment_methods,omitempty" validate:"dive,oneof=cash credit_card other"`
	PriceRange     *PriceRange `json:"price_range,omitempty"` // applied to receipt total

	Categories     []string    `json:"categories,omitempty"`
	ItemKeywords   []string    `json:"item_keywords,omitempty"`
	ItemPriceRange *PriceRange `json:"item_price_range,omitempty"`
}

// HasItemCriteria reports whether any item-level dimension is present.
func (f Filters) HasItemCriteria() bool {
	return len(f.Categories) > 0 || len(f.ItemKeywords) > 0 || f.ItemPriceRange != nil
}

// QueryPlan is the structured directive derived from a natural-language
// question by the planner.
type QueryPlan struct {
	Aggregation string  `json:"aggregation" validate:"required"`
	Filters     Filters `json:"filters"`
}

// AggregationResult carries the outcome of one reduction. ResultType
// "error" means the strategy failed internally; the aggregator never
// raises past its boundary.
type AggregationResult struct {
	Type       constants.AggregationType  `json:"type"`
	ResultType string                     `json:"result_type"`
	Count      int                        `json:"count,omitempty"`
	Total      decimal.Decimal            `json:"total,omitempty"`
	Breakdown  map[string]decimal.Decimal `json:"breakdown,omitempty"`
	GrandTotal decimal.Decimal            `json:"grand_total,omitempty"`
	Stores     []string                   `json:"stores,omitempty"`
	Error      string                     `json:"error,omitempty"`
}

// Result type values.
const (
	ResultCount         = "count"
	ResultTotal         = "total"
	ResultCategoryBreak = "category_breakdown"
	ResultPaymentBreak  = "payment_breakdown"
	ResultPriceByStore  = "price_by_store"
	ResultStoreList     = "store_list"
	ResultError         = "error"
)
