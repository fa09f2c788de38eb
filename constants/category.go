package constants

import (
	"strings"
)

type Category string

const (
	Food        Category = "food"
	Beverages   Category = "beverages"
	Household   Category = "household"
	Electronics Category = "electronics"
	Clothing    Category = "clothing"
	Pharmacy    Category = "pharmacy"
	Deposit     Category = "deposit"
	Other       Category = "other"
)

var allCategories = []Category{
	Food,
	Beverages,
	Household,
	Electronics,
	Clothing,
	Pharmacy,
	Deposit,
	Other,
}

func AllCategories() []Category {
	out := make([]Category, len(allCategories))
	copy(out, allCategories)
	return out
}

func CategoriesAsStrings() []string {
	result := make([]string, len(allCategories))
	for i, cat := range allCategories {
		result[i] = string(cat)
	}
	return result
}

// CanonicalizeCategory maps free-form input to a known category code.
// The boolean reports whether the input matched; unmatched input
// resolves to Other.
func CanonicalizeCategory(input string) (Category, bool) {
	if input == "" {
		return Other, false
	}

	normalized := strings.ToLower(strings.TrimSpace(input))

	for _, cat := range allCategories {
		if normalized == string(cat) {
			return cat, true
		}
	}

	return Other, false
}
