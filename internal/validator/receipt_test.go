package validator

import (
	"errors"
	"strings"
	"testing"
	"time"

	"receipt-bot/constants"
	"receipt-bot/internal/taxonomy"
)

var testNow = func() time.Time {
	return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
}

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	taxo, err := taxonomy.Load()
	if err != nil {
		t.Fatalf("load taxonomy: %v", err)
	}
	return NewWithClock(taxo, testNow)
}

func baseReceipt() map[string]any {
	return map[string]any{
		"store_name":     "שופרסל דיל",
		"date":           "2025-06-10",
		"payment_method": "credit_card",
		"total":          16.50,
		"items": []any{
			map[string]any{"name": "Milk", "price": 6.50, "quantity": 1, "discount": 0},
			map[string]any{"name": "Bread", "price": 12.00, "quantity": 1, "discount": -2.00},
		},
	}
}

func TestValidateAcceptsConsistentReceipt(t *testing.T) {
	v := newTestValidator(t)

	rd, err := v.Validate(baseReceipt())
	if err != nil {
		t.Fatalf("Validate() error = %v, want nil", err)
	}
	if rd.StoreName != "שופרסל דיל" {
		t.Errorf("StoreName = %q, Unicode not preserved", rd.StoreName)
	}
	if got := rd.ComputedTotal().StringFixed(2); got != "16.50" {
		t.Errorf("ComputedTotal = %s, want 16.50", got)
	}
	if rd.PaymentMethod != constants.CreditCard {
		t.Errorf("PaymentMethod = %q, want credit_card", rd.PaymentMethod)
	}
}

func TestValidateRejectsTotalMismatch(t *testing.T) {
	v := newTestValidator(t)

	raw := baseReceipt()
	raw["total"] = 20.00

	_, err := v.Validate(raw)
	var verr *Error
	if !errors.As(err, &verr) {
		t.Fatalf("Validate() error = %v, want *Error", err)
	}
	if verr.Code != CodeTotalMismatch {
		t.Errorf("Code = %s, want %s", verr.Code, CodeTotalMismatch)
	}
	if !strings.Contains(verr.Message, "3.50") {
		t.Errorf("Message = %q, want difference 3.50 reported", verr.Message)
	}
}

func TestValidateTotalWithinTolerance(t *testing.T) {
	v := newTestValidator(t)

	raw := baseReceipt()
	raw["total"] = 16.59 // 0.09 off, inside the 0.10 band

	if _, err := v.Validate(raw); err != nil {
		t.Fatalf("Validate() error = %v, want nil inside tolerance", err)
	}
}

func TestValidateReportsAllMissingFields(t *testing.T) {
	v := newTestValidator(t)

	_, err := v.Validate(map[string]any{"store_name": "AM:PM"})
	var verr *Error
	if !errors.As(err, &verr) {
		t.Fatalf("Validate() error = %v, want *Error", err)
	}
	if verr.Code != CodeMissingField {
		t.Fatalf("Code = %s, want %s", verr.Code, CodeMissingField)
	}
	want := []string{"date", "payment_method", "total"}
	if len(verr.Fields) != len(want) {
		t.Fatalf("Fields = %v, want %v", verr.Fields, want)
	}
	for i, f := range want {
		if verr.Fields[i] != f {
			t.Errorf("Fields[%d] = %q, want %q", i, verr.Fields[i], f)
		}
	}
}

func TestValidateDateFormats(t *testing.T) {
	v := newTestValidator(t)

	tests := []struct {
		name    string
		date    string
		want    string
		wantErr bool
	}{
		{name: "iso", date: "2025-06-10", want: "2025-06-10"},
		{name: "slashes", date: "10/06/2025", want: "2025-06-10"},
		{name: "dots", date: "10.06.2025", want: "2025-06-10"},
		{name: "dashes dmy", date: "10-06-2025", want: "2025-06-10"},
		{name: "garbage", date: "yesterday", wantErr: true},
		{name: "too old", date: "2024-01-01", wantErr: true},
		{name: "tomorrow within skew", date: "2025-06-16", want: "2025-06-16"},
		{name: "too far future", date: "2025-07-01", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			raw := baseReceipt()
			raw["date"] = tc.date
			rd, err := v.Validate(raw)
			if tc.wantErr {
				var verr *Error
				if !errors.As(err, &verr) || verr.Code != CodeInvalidDate {
					t.Fatalf("Validate() error = %v, want InvalidDate", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			if rd.Date != tc.want {
				t.Errorf("Date = %s, want %s", rd.Date, tc.want)
			}
		})
	}
}

func TestNormalizeDateIdempotent(t *testing.T) {
	v := newTestValidator(t)

	first, err := v.normalizeDate("10/06/2025")
	if err != nil {
		t.Fatalf("normalizeDate: %v", err)
	}
	second, err := v.normalizeDate(first)
	if err != nil {
		t.Fatalf("normalizeDate(normalized): %v", err)
	}
	if first != second {
		t.Errorf("normalization not idempotent: %s != %s", first, second)
	}
}

func TestValidateNegatesPositiveDiscount(t *testing.T) {
	v := newTestValidator(t)

	tests := []struct {
		name     string
		discount any
		want     string
	}{
		{name: "positive auto-negated", discount: 2.00, want: "-2.00"},
		{name: "negative unchanged", discount: -2.00, want: "-2.00"},
		{name: "zero unchanged", discount: 0, want: "0.00"},
		{name: "positive string", discount: "2.00", want: "-2.00"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			raw := map[string]any{
				"store_name":     "Rami Levy",
				"date":           "2025-06-10",
				"payment_method": "cash",
				"total":          10.00,
				"items": []any{
					map[string]any{"name": "Bread", "price": 12.00, "quantity": 1, "discount": tc.discount},
				},
			}
			if tc.want == "0.00" {
				raw["total"] = 12.00
			}
			rd, err := v.Validate(raw)
			if err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			if got := rd.Items[0].Discount.StringFixed(2); got != tc.want {
				t.Errorf("Discount = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestValidateMalformedAmount(t *testing.T) {
	v := newTestValidator(t)

	raw := baseReceipt()
	raw["total"] = "sixteen fifty"

	_, err := v.Validate(raw)
	var verr *Error
	if !errors.As(err, &verr) || verr.Code != CodeInvalidAmount {
		t.Fatalf("Validate() error = %v, want InvalidAmount", err)
	}
}

func TestValidateStringAmountsCoerced(t *testing.T) {
	v := newTestValidator(t)

	raw := baseReceipt()
	raw["total"] = "16.50"
	raw["items"] = []any{
		map[string]any{"name": "Milk", "price": "6.50", "quantity": "1"},
		map[string]any{"name": "Bread", "price": "12.00", "quantity": 1, "discount": "2.00"},
	}

	rd, err := v.Validate(raw)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if got := rd.Total.StringFixed(2); got != "16.50" {
		t.Errorf("Total = %s, want 16.50", got)
	}
}

func TestValidateSubcategoryDerivesCategory(t *testing.T) {
	v := newTestValidator(t)

	raw := map[string]any{
		"store_name":     "Super-Pharm",
		"date":           "2025-06-10",
		"payment_method": "cash",
		"total":          25.00,
		"items": []any{
			map[string]any{"name": "Acamol", "price": 25.00, "subcategory": "medicine"},
		},
	}
	rd, err := v.Validate(raw)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if rd.Items[0].Category != constants.Pharmacy {
		t.Errorf("Category = %s, want pharmacy (derived from subcategory)", rd.Items[0].Category)
	}
}

func TestValidateQuantityDefaultsToOne(t *testing.T) {
	v := newTestValidator(t)

	raw := map[string]any{
		"store_name":     "Shuk",
		"date":           "2025-06-10",
		"payment_method": "cash",
		"total":          9.80,
		"items": []any{
			map[string]any{"name": "עגבניות", "price": 9.80},
		},
	}
	rd, err := v.Validate(raw)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if got := rd.Items[0].Quantity.StringFixed(3); got != "1.000" {
		t.Errorf("Quantity = %s, want 1.000", got)
	}
}

func TestValidateFractionalQuantity(t *testing.T) {
	v := newTestValidator(t)

	raw := map[string]any{
		"store_name":     "Shuk",
		"date":           "2025-06-10",
		"payment_method": "cash",
		"total":          14.75,
		"items": []any{
			// 1.475 kg at 10.00/kg
			map[string]any{"name": "Tomatoes", "price": 10.00, "quantity": 1.475},
		},
	}
	if _, err := v.Validate(raw); err != nil {
		t.Fatalf("Validate() error = %v, want fractional weights accepted", err)
	}
}

func TestValidateEmptyReceiptNumberBecomesNil(t *testing.T) {
	v := newTestValidator(t)

	raw := baseReceipt()
	raw["receipt_number"] = "   "
	rd, err := v.Validate(raw)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if rd.ReceiptNumber != nil {
		t.Errorf("ReceiptNumber = %v, want nil for blank input", *rd.ReceiptNumber)
	}
}
