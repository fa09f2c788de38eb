// Package validator turns raw extraction output into validated receipt
// entities. All-or-nothing: a receipt that fails any check is rejected
// whole, so downstream aggregation can trust every persisted number.
package validator

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"receipt-bot/constants"
	"receipt-bot/internal/entity"
	"receipt-bot/internal/taxonomy"
)

// ErrorCode classifies validation failures.
type ErrorCode string

const (
	CodeMissingField  ErrorCode = "MissingField"
	CodeInvalidAmount ErrorCode = "InvalidAmount"
	CodeInvalidDate   ErrorCode = "InvalidDate"
	CodeTotalMismatch ErrorCode = "TotalMismatch"
)

// Error is a terminal validation failure for one receipt.
type Error struct {
	Code    ErrorCode
	Message string
	Fields  []string // all offending fields, not just the first
}

func (e *Error) Error() string {
	if len(e.Fields) > 0 {
		return fmt.Sprintf("%s: %s (fields: %s)", e.Code, e.Message, strings.Join(e.Fields, ", "))
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Receipts older than this are rejected; slightly-future dates are
// tolerated for clock skew.
const (
	maxReceiptAge    = 180 * 24 * time.Hour
	futureDateSlack  = 24 * time.Hour
	totalTolerance   = "0.10"
	maxStoreNameLen  = 100
	maxItemNameLen   = 200
	maxReceiptNumLen = 50
)

var requiredFields = []string{"store_name", "date", "payment_method", "total"}

// Validator builds validated receipts from raw extraction maps.
type Validator struct {
	taxo *taxonomy.Taxonomy
	now  func() time.Time
}

func New(taxo *taxonomy.Taxonomy) *Validator {
	return &Validator{taxo: taxo, now: time.Now}
}

// NewWithClock is used by tests that need a fixed reference time.
func NewWithClock(taxo *taxonomy.Taxonomy, now func() time.Time) *Validator {
	return &Validator{taxo: taxo, now: now}
}

// Validate parses, coerces and cross-checks a raw extraction map.
// It never returns a partially valid receipt.
func (v *Validator) Validate(raw map[string]any) (*entity.ReceiptData, error) {
	if missing := missingFields(raw); len(missing) > 0 {
		return nil, &Error{
			Code:    CodeMissingField,
			Message: "required fields are missing",
			Fields:  missing,
		}
	}

	storeName := strings.TrimSpace(stringField(raw, "store_name"))
	if storeName == "" || len([]rune(storeName)) > maxStoreNameLen {
		return nil, &Error{
			Code:    CodeMissingField,
			Message: fmt.Sprintf("store_name must be 1-%d characters", maxStoreNameLen),
			Fields:  []string{"store_name"},
		}
	}

	date, err := v.normalizeDate(stringField(raw, "date"))
	if err != nil {
		return nil, err
	}

	payment, _ := constants.CanonicalizePaymentMethod(stringField(raw, "payment_method"))

	total, err := parseAmount(raw["total"], "total")
	if err != nil {
		return nil, err
	}
	if total.IsNegative() {
		return nil, &Error{
			Code:    CodeInvalidAmount,
			Message: "total must be non-negative",
			Fields:  []string{"total"},
		}
	}
	total = total.Round(2)

	var receiptNumber *string
	if rn := strings.TrimSpace(stringField(raw, "receipt_number")); rn != "" {
		if len([]rune(rn)) > maxReceiptNumLen {
			rn = string([]rune(rn)[:maxReceiptNumLen])
		}
		receiptNumber = &rn
	}

	items, err := v.validateItems(raw["items"])
	if err != nil {
		return nil, err
	}

	rd := &entity.ReceiptData{
		StoreName:        storeName,
		Date:             date,
		PaymentMethod:    payment,
		Total:            total,
		ReceiptNumber:    receiptNumber,
		Items:            items,
		ProcessingMethod: stringField(raw, "processing_method"),
	}
	if c, ok := raw["confidence"].(float64); ok {
		rd.Confidence = c
	}

	// Cross-field reconciliation: with items present, the stated total
	// must match the item sum within tolerance. Strict, no partial
	// acceptance.
	if len(items) > 0 {
		computed := rd.ComputedTotal()
		diff := total.Sub(computed).Abs()
		if diff.GreaterThan(decimal.RequireFromString(totalTolerance)) {
			return nil, &Error{
				Code: CodeTotalMismatch,
				Message: fmt.Sprintf("stated total %s does not match computed %s (difference %s)",
					total.StringFixed(2), computed.StringFixed(2), diff.StringFixed(2)),
				Fields: []string{"total"},
			}
		}
	}

	return rd, nil
}

func (v *Validator) validateItems(raw any) ([]entity.ReceiptItem, error) {
	if raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		if typed, ok2 := raw.([]map[string]any); ok2 {
			list = make([]any, len(typed))
			for i, m := range typed {
				list[i] = m
			}
		} else {
			return nil, &Error{
				Code:    CodeInvalidAmount,
				Message: "items must be a list",
				Fields:  []string{"items"},
			}
		}
	}

	items := make([]entity.ReceiptItem, 0, len(list))
	for i, el := range list {
		m, ok := el.(map[string]any)
		if !ok {
			return nil, &Error{
				Code:    CodeInvalidAmount,
				Message: fmt.Sprintf("items[%d] is not an object", i),
				Fields:  []string{fmt.Sprintf("items[%d]", i)},
			}
		}
		item, err := v.validateItem(m, i)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (v *Validator) validateItem(m map[string]any, idx int) (entity.ReceiptItem, error) {
	field := func(name string) string { return fmt.Sprintf("items[%d].%s", idx, name) }

	name := strings.TrimSpace(stringField(m, "name"))
	if name == "" || len([]rune(name)) > maxItemNameLen {
		return entity.ReceiptItem{}, &Error{
			Code:    CodeMissingField,
			Message: fmt.Sprintf("item name must be 1-%d characters", maxItemNameLen),
			Fields:  []string{field("name")},
		}
	}

	price, err := parseAmount(m["price"], field("price"))
	if err != nil {
		return entity.ReceiptItem{}, err
	}
	if price.IsNegative() {
		return entity.ReceiptItem{}, &Error{
			Code:    CodeInvalidAmount,
			Message: "item price must be non-negative",
			Fields:  []string{field("price")},
		}
	}

	quantity := decimal.NewFromInt(1)
	if qRaw, ok := m["quantity"]; ok && qRaw != nil {
		quantity, err = parseAmount(qRaw, field("quantity"))
		if err != nil {
			return entity.ReceiptItem{}, err
		}
		if !quantity.IsPositive() {
			return entity.ReceiptItem{}, &Error{
				Code:    CodeInvalidAmount,
				Message: "item quantity must be positive",
				Fields:  []string{field("quantity")},
			}
		}
	}

	discount := decimal.Zero
	if dRaw, ok := m["discount"]; ok && dRaw != nil {
		discount, err = parseAmount(dRaw, field("discount"))
		if err != nil {
			return entity.ReceiptItem{}, err
		}
		// Discounts represent deductions; a positive input is negated.
		if discount.IsPositive() {
			discount = discount.Neg()
		}
	}

	subcategory := strings.TrimSpace(stringField(m, "subcategory"))
	category, matched := constants.CanonicalizeCategory(stringField(m, "category"))
	if !matched && subcategory != "" {
		category = v.taxo.CategoryFor(subcategory)
	}

	return entity.ReceiptItem{
		Name:        name,
		Price:       price.Round(2),
		Quantity:    quantity.Round(3),
		Category:    category,
		Subcategory: subcategory,
		Discount:    discount.Round(2),
	}, nil
}

// Accepted date layouts, tried in order.
var dateLayouts = []string{"2006-01-02", "02/01/2006", "02.01.2006", "02-01-2006"}

// normalizeDate parses one of the accepted layouts and renders
// YYYY-MM-DD. Normalization is idempotent for already-normalized input.
func (v *Validator) normalizeDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	var parsed time.Time
	var ok bool
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			parsed, ok = t, true
			break
		}
	}
	if !ok {
		return "", &Error{
			Code:    CodeInvalidDate,
			Message: fmt.Sprintf("unparsable date %q", s),
			Fields:  []string{"date"},
		}
	}

	now := v.now().UTC()
	if parsed.Before(now.Add(-maxReceiptAge)) {
		return "", &Error{
			Code:    CodeInvalidDate,
			Message: fmt.Sprintf("date %s is more than 180 days in the past", parsed.Format("2006-01-02")),
			Fields:  []string{"date"},
		}
	}
	if parsed.After(now.Add(futureDateSlack)) {
		return "", &Error{
			Code:    CodeInvalidDate,
			Message: fmt.Sprintf("date %s is in the future", parsed.Format("2006-01-02")),
			Fields:  []string{"date"},
		}
	}
	return parsed.Format("2006-01-02"), nil
}

// parseAmount coerces int/float/string inputs to an exact decimal.
func parseAmount(raw any, fieldName string) (decimal.Decimal, error) {
	switch t := raw.(type) {
	case nil:
		return decimal.Zero, &Error{
			Code:    CodeInvalidAmount,
			Message: "amount is missing",
			Fields:  []string{fieldName},
		}
	case int:
		return decimal.NewFromInt(int64(t)), nil
	case int64:
		return decimal.NewFromInt(t), nil
	case float64:
		return decimal.NewFromFloat(t), nil
	case decimal.Decimal:
		return t, nil
	case string:
		s := strings.TrimSpace(t)
		s = strings.TrimPrefix(s, "₪")
		s = strings.ReplaceAll(s, ",", "")
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, &Error{
				Code:    CodeInvalidAmount,
				Message: fmt.Sprintf("malformed decimal %q", t),
				Fields:  []string{fieldName},
			}
		}
		return d, nil
	default:
		return decimal.Zero, &Error{
			Code:    CodeInvalidAmount,
			Message: fmt.Sprintf("unsupported amount type %T", raw),
			Fields:  []string{fieldName},
		}
	}
}

func missingFields(raw map[string]any) []string {
	var missing []string
	for _, f := range requiredFields {
		v, ok := raw[f]
		if !ok || v == nil {
			missing = append(missing, f)
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			missing = append(missing, f)
		}
	}
	return missing
}

func stringField(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}
