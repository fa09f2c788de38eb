package constants

// AggregationType is the closed set of reductions the query engine supports.
type AggregationType string

const (
	AggCountReceipts   AggregationType = "count_receipts"
	AggSumTotal        AggregationType = "sum_total"
	AggSumByCategory   AggregationType = "sum_by_category"
	AggMinPriceByStore AggregationType = "min_price_by_store"
	AggMaxPriceByStore AggregationType = "max_price_by_store"
	AggSumByPayment    AggregationType = "sum_by_payment"
	AggListStores      AggregationType = "list_stores"
)

var allAggregationTypes = []AggregationType{
	AggCountReceipts,
	AggSumTotal,
	AggSumByCategory,
	AggMinPriceByStore,
	AggMaxPriceByStore,
	AggSumByPayment,
	AggListStores,
}

func AggregationTypesAsStrings() []string {
	result := make([]string, len(allAggregationTypes))
	for i, at := range allAggregationTypes {
		result[i] = string(at)
	}
	return result
}

// IsKnownAggregation reports whether t is one of the supported reductions.
func IsKnownAggregation(t string) bool {
	for _, at := range allAggregationTypes {
		if t == string(at) {
			return true
		}
	}
	return false
}
