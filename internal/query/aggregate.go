package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"receipt-bot/constants"
	"receipt-bot/internal/entity"
)

// Aggregate reduces a filtered receipt set into a single result. Unknown
// aggregation types fall back to a receipt count. The reduction never
// raises: any panic inside a strategy is recovered into an error result
// so one bad receipt cannot take down the request.
func Aggregate(receipts []*entity.Receipt, aggType string, f entity.Filters) (result entity.AggregationResult) {
	agg := constants.AggregationType(aggType)
	if !constants.IsKnownAggregation(aggType) {
		agg = constants.AggCountReceipts
	}
	result.Type = agg

	defer func() {
		if r := recover(); r != nil {
			result = entity.AggregationResult{
				Type:       agg,
				ResultType: entity.ResultError,
				Error:      fmt.Sprintf("aggregation %s failed: %v", agg, r),
			}
		}
	}()

	switch agg {
	case constants.AggSumTotal:
		return sumTotal(receipts, agg)
	case constants.AggSumByCategory:
		return sumByCategory(receipts, agg, f.Categories)
	case constants.AggMinPriceByStore:
		return priceByStore(receipts, agg, f, lessThan)
	case constants.AggMaxPriceByStore:
		return priceByStore(receipts, agg, f, greaterThan)
	case constants.AggSumByPayment:
		return sumByPayment(receipts, agg, f.PaymentMethods)
	case constants.AggListStores:
		return listStores(receipts, agg)
	default:
		return entity.AggregationResult{
			Type:       agg,
			ResultType: entity.ResultCount,
			Count:      len(receipts),
		}
	}
}

// sumTotal adds receipt-level totals. Accumulation is exact; rounding
// to two places happens once, at the boundary.
func sumTotal(receipts []*entity.Receipt, agg constants.AggregationType) entity.AggregationResult {
	sum := decimal.Zero
	for _, r := range receipts {
		sum = sum.Add(r.Total)
	}
	return entity.AggregationResult{
		Type:       agg,
		ResultType: entity.ResultTotal,
		Count:      len(receipts),
		Total:      sum.Round(2),
	}
}

// sumByCategory buckets item line totals (price*quantity+discount) per
// category. When the plan names categories, buckets outside that set are
// skipped using the same loose match as the item filter, so the breakdown
// agrees with what the user asked about.
func sumByCategory(receipts []*entity.Receipt, agg constants.AggregationType, wanted []string) entity.AggregationResult {
	buckets := make(map[string]decimal.Decimal)
	grand := decimal.Zero
	for _, r := range receipts {
		for _, it := range r.Items {
			cat := string(it.Category)
			if cat == "" {
				cat = string(constants.Other)
			}
			if len(wanted) > 0 && !matchesAnyCategory(cat, wanted) {
				continue
			}
			line := it.LineTotal()
			buckets[cat] = buckets[cat].Add(line)
			grand = grand.Add(line)
		}
	}
	for cat, sum := range buckets {
		buckets[cat] = sum.Round(2)
	}
	return entity.AggregationResult{
		Type:       agg,
		ResultType: entity.ResultCategoryBreak,
		Breakdown:  buckets,
		GrandTotal: grand.Round(2),
	}
}

func lessThan(a, b decimal.Decimal) bool    { return a.LessThan(b) }
func greaterThan(a, b decimal.Decimal) bool { return a.GreaterThan(b) }

// priceByStore is the shared reduction behind the min and max strategies:
// per store, keep the item price that wins under better. Only items that
// satisfy the plan's item criteria compete; the item filter retains whole
// receipts, so unrelated items on a retained receipt would otherwise win.
// Items with non-positive prices are placeholders from extraction and are
// excluded.
func priceByStore(receipts []*entity.Receipt, agg constants.AggregationType, f entity.Filters, better func(a, b decimal.Decimal) bool) entity.AggregationResult {
	best := make(map[string]decimal.Decimal)
	for _, r := range receipts {
		for _, it := range r.Items {
			if !it.Price.IsPositive() {
				continue
			}
			if f.HasItemCriteria() && !itemMatches(it, f) {
				continue
			}
			cur, ok := best[r.StoreName]
			if !ok || better(it.Price, cur) {
				best[r.StoreName] = it.Price
			}
		}
	}
	for store, price := range best {
		best[store] = price.Round(2)
	}
	return entity.AggregationResult{
		Type:       agg,
		ResultType: entity.ResultPriceByStore,
		Breakdown:  best,
	}
}

// sumByPayment buckets receipt totals per payment method. When the plan
// names methods, buckets outside that set are skipped so the breakdown
// holds even if the receipt set was not pre-filtered by the storage layer.
func sumByPayment(receipts []*entity.Receipt, agg constants.AggregationType, wanted []string) entity.AggregationResult {
	buckets := make(map[string]decimal.Decimal)
	grand := decimal.Zero
	for _, r := range receipts {
		method := string(r.PaymentMethod)
		if method == "" {
			method = string(constants.PaymentOther)
		}
		if len(wanted) > 0 && !methodWanted(method, wanted) {
			continue
		}
		buckets[method] = buckets[method].Add(r.Total)
		grand = grand.Add(r.Total)
	}
	for method, sum := range buckets {
		buckets[method] = sum.Round(2)
	}
	return entity.AggregationResult{
		Type:       agg,
		ResultType: entity.ResultPaymentBreak,
		Breakdown:  buckets,
		GrandTotal: grand.Round(2),
	}
}

func methodWanted(method string, wanted []string) bool {
	for _, w := range wanted {
		if strings.EqualFold(strings.TrimSpace(w), method) {
			return true
		}
	}
	return false
}

func listStores(receipts []*entity.Receipt, agg constants.AggregationType) entity.AggregationResult {
	seen := make(map[string]struct{})
	var stores []string
	for _, r := range receipts {
		if _, ok := seen[r.StoreName]; ok {
			continue
		}
		seen[r.StoreName] = struct{}{}
		stores = append(stores, r.StoreName)
	}
	sort.Strings(stores)
	return entity.AggregationResult{
		Type:       agg,
		ResultType: entity.ResultStoreList,
		Stores:     stores,
		Count:      len(stores),
	}
}
