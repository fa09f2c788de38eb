package constants

import "strings"

type PaymentMethod string

// Stable values (store these exact strings in DB).
const (
	Cash         PaymentMethod = "cash"
	CreditCard   PaymentMethod = "credit_card"
	PaymentOther PaymentMethod = "other"
)

var allPaymentMethods = []PaymentMethod{Cash, CreditCard, PaymentOther}

func PaymentMethodsAsStrings() []string {
	result := make([]string, len(allPaymentMethods))
	for i, pm := range allPaymentMethods {
		result[i] = string(pm)
	}
	return result
}

// CanonicalizePaymentMethod maps free-form input to a known payment method.
func CanonicalizePaymentMethod(input string) (PaymentMethod, bool) {
	normalized := strings.ToLower(strings.TrimSpace(input))
	normalized = strings.ReplaceAll(normalized, " ", "_")
	normalized = strings.ReplaceAll(normalized, "-", "_")

	synonyms := map[string]PaymentMethod{
		"card":       CreditCard,
		"credit":     CreditCard,
		"creditcard": CreditCard,
		"visa":       CreditCard,
		"mastercard": CreditCard,
		"מזומן":      Cash,
		"אשראי":      CreditCard,
	}
	if pm, ok := synonyms[normalized]; ok {
		return pm, true
	}

	for _, pm := range allPaymentMethods {
		if normalized == string(pm) {
			return pm, true
		}
	}
	return PaymentOther, false
}
