package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"receipt-bot/constants"
	"receipt-bot/internal/entity"
	"receipt-bot/internal/llm"
	"receipt-bot/internal/repository"
	"receipt-bot/internal/taxonomy"
	"receipt-bot/internal/validator"
)

type fakeExtractor struct {
	doc map[string]any
}

func (f *fakeExtractor) ExtractReceipt(_ context.Context, _ llm.ExtractRequest) (map[string]any, []byte, error) {
	return f.doc, []byte("{}"), nil
}

type fakePlanner struct {
	plan entity.QueryPlan
}

func (f *fakePlanner) PlanQuery(_ context.Context, _ string, _ string) (entity.QueryPlan, []byte, error) {
	return f.plan, []byte("{}"), nil
}

func newSQLiteRepo(t *testing.T) repository.ReceiptRepository {
	t.Helper()
	repo, err := repository.OpenSQLite(":memory:", slog.Default())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(repo.Close)
	return repo
}

func newValidator(t *testing.T) *validator.Validator {
	t.Helper()
	taxo, err := taxonomy.Load()
	if err != nil {
		t.Fatalf("load taxonomy: %v", err)
	}
	return validator.NewWithClock(taxo, func() time.Time {
		return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	})
}

func validDoc() map[string]any {
	return map[string]any{
		"store_name":     "Shufersal",
		"date":           "10/06/2025",
		"payment_method": "credit_card",
		"total":          "18.50",
		"items": []any{
			map[string]any{"name": "Milk 3%", "price": 6.50, "quantity": 1, "category": "food"},
			map[string]any{"name": "Cola", "price": 12.00, "quantity": 1, "category": "beverages"},
		},
	}
}

func TestIngestProcessReceipt(t *testing.T) {
	repo := newSQLiteRepo(t)
	ing := NewIngest(&fakeExtractor{doc: validDoc()}, nil, newValidator(t), repo, nil, nil)
	ctx := context.Background()
	images := [][]byte{[]byte("photo-bytes")}

	res, err := ing.ProcessReceipt(ctx, 7, images)
	if err != nil {
		t.Fatalf("ProcessReceipt: %v", err)
	}
	if res.Duplicate {
		t.Error("first ingest reported duplicate")
	}
	if res.Receipt.StoreName != "Shufersal" || res.Receipt.Date != "2025-06-10" {
		t.Errorf("receipt = %+v, want normalized Shufersal/2025-06-10", res.Receipt)
	}
	if res.Receipt.ProcessingMethod != "vision-llm" {
		t.Errorf("method = %s, want vision-llm with no OCR stage", res.Receipt.ProcessingMethod)
	}

	// Same photo again: content-hash dedup makes the write a no-op.
	res, err = ing.ProcessReceipt(ctx, 7, images)
	if err != nil {
		t.Fatalf("second ProcessReceipt: %v", err)
	}
	if !res.Duplicate {
		t.Error("second ingest of identical photo not flagged duplicate")
	}

	n, err := repo.CountUserReceipts(ctx, 7)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("stored receipts = %d, want 1", n)
	}
}

func TestIngestRejectsInconsistentReceipt(t *testing.T) {
	doc := validDoc()
	doc["total"] = "99.00"
	ing := NewIngest(&fakeExtractor{doc: doc}, nil, newValidator(t), newSQLiteRepo(t), nil, nil)

	_, err := ing.ProcessReceipt(context.Background(), 7, [][]byte{[]byte("photo")})
	var vErr *validator.Error
	if err == nil {
		t.Fatal("inconsistent receipt accepted")
	}
	if !errors.As(err, &vErr) {
		t.Fatalf("error = %v, want *validator.Error", err)
	}
	if vErr.Code != validator.CodeTotalMismatch {
		t.Errorf("code = %s, want %s", vErr.Code, validator.CodeTotalMismatch)
	}
}

func TestQueryServiceAnswer(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	for i, total := range []float64{50, 30} {
		rec := &entity.Receipt{
			ID:            uuid.New(),
			UserID:        7,
			StoreName:     "Shufersal",
			Date:          time.Date(2025, 6, 1+i, 0, 0, 0, 0, time.UTC),
			Total:         decimal.NewFromFloat(total),
			PaymentMethod: constants.Cash,
			CreatedAt:     time.Now().UTC(),
			Items: []entity.ReceiptItem{
				{Name: "Milk", Price: decimal.NewFromFloat(total), Quantity: decimal.NewFromInt(1), Category: constants.Food},
			},
		}
		if _, err := repo.SaveReceiptWithItems(ctx, rec); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	planner := &fakePlanner{plan: entity.QueryPlan{Aggregation: string(constants.AggSumTotal)}}
	qs := NewQueryService(planner, nil, repo, nil)

	answer, err := qs.Answer(ctx, 7, "how much did I spend?")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if !strings.Contains(answer, "80.00") {
		t.Errorf("answer = %q, want it to contain 80.00", answer)
	}
}

func TestQueryServiceRejectsEmptyPlan(t *testing.T) {
	qs := NewQueryService(&fakePlanner{plan: entity.QueryPlan{}}, nil, newSQLiteRepo(t), nil)
	if _, err := qs.Answer(context.Background(), 7, "anything"); err == nil {
		t.Fatal("plan without aggregation accepted")
	}
}

func TestFormatResult(t *testing.T) {
	tests := []struct {
		name   string
		result entity.AggregationResult
		want   string
	}{
		{
			name:   "count",
			result: entity.AggregationResult{Type: constants.AggCountReceipts, ResultType: entity.ResultCount, Count: 3},
			want:   "You have 3 receipts.",
		},
		{
			name: "total",
			result: entity.AggregationResult{
				Type: constants.AggSumTotal, ResultType: entity.ResultTotal,
				Count: 2, Total: decimal.RequireFromString("80.00"),
			},
			want: "Total: ₪80.00 across 2 receipts.",
		},
		{
			name: "store list",
			result: entity.AggregationResult{
				Type: constants.AggListStores, ResultType: entity.ResultStoreList,
				Stores: []string{"Rami Levy", "Shufersal"},
			},
			want: "Stores: Rami Levy, Shufersal",
		},
		{
			name: "category breakdown includes grand total",
			result: entity.AggregationResult{
				Type: constants.AggSumByCategory, ResultType: entity.ResultCategoryBreak,
				Breakdown:  map[string]decimal.Decimal{"food": decimal.RequireFromString("22.90")},
				GrandTotal: decimal.RequireFromString("22.90"),
			},
			want: "food: ₪22.90\nTotal: ₪22.90",
		},
		{
			name:   "empty breakdown",
			result: entity.AggregationResult{Type: constants.AggSumByPayment, ResultType: entity.ResultPaymentBreak},
			want:   "Nothing found for that question.",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := FormatResult(tc.result); got != tc.want {
				t.Errorf("FormatResult = %q, want %q", got, tc.want)
			}
		})
	}
}
