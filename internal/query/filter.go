// Package query refines storage results at item granularity and reduces
// filtered receipt sets into aggregation results.
package query

import (
	"strings"

	"receipt-bot/internal/entity"
)

// FilterByItems keeps receipts where at least one item satisfies ALL
// supplied item-level criteria simultaneously (AND across criteria, OR
// across items). With no criteria it is a pass-through.
func FilterByItems(receipts []*entity.Receipt, f entity.Filters) []*entity.Receipt {
	if !f.HasItemCriteria() {
		return receipts
	}

	out := make([]*entity.Receipt, 0, len(receipts))
	for _, r := range receipts {
		for _, it := range r.Items {
			if itemMatches(it, f) {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

func itemMatches(it entity.ReceiptItem, f entity.Filters) bool {
	if len(f.Categories) > 0 && !matchesAnyCategory(string(it.Category), f.Categories) {
		return false
	}
	if len(f.ItemKeywords) > 0 && !matchesAnyKeyword(it.Name, f.ItemKeywords) {
		return false
	}
	if f.ItemPriceRange != nil && !priceInRange(it, *f.ItemPriceRange) {
		return false
	}
	return true
}

// matchesAnyCategory uses a loose, case-insensitive substring match in
// either direction so partial taxonomy labels still hit ("bever" matches
// "beverages", "seafood" matches a bare "food" label). The item filter
// and the category-restricted aggregations share this predicate.
func matchesAnyCategory(cat string, categories []string) bool {
	itemCat := strings.ToLower(strings.TrimSpace(cat))
	if itemCat == "" {
		return false
	}
	for _, c := range categories {
		want := strings.ToLower(strings.TrimSpace(c))
		if want == "" {
			continue
		}
		if strings.Contains(itemCat, want) || strings.Contains(want, itemCat) {
			return true
		}
	}
	return false
}

// matchesAnyKeyword matches any keyword as a case-insensitive substring
// of the item name. Callers are expected to supply both Latin and Hebrew
// variants for bilingual coverage.
func matchesAnyKeyword(name string, keywords []string) bool {
	lower := strings.ToLower(name)
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// priceInRange checks min <= item.price <= max with default bounds
// [0, +inf).
func priceInRange(it entity.ReceiptItem, pr entity.PriceRange) bool {
	price, _ := it.Price.Float64()
	min := 0.0
	if pr.Min != nil {
		min = *pr.Min
	}
	if price < min {
		return false
	}
	if pr.Max != nil && price > *pr.Max {
		return false
	}
	return true
}
