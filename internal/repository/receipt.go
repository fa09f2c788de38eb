// Package repository persists receipts and resolves filter specifications
// into candidate receipt sets using index-assisted lookups with a
// full-scan fallback.
package repository

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"receipt-bot/internal/entity"
)

// ReceiptRepository is the storage collaborator contract. Implementations
// exist for Postgres (pgx) and SQLite (modernc); one is selected by
// configuration at startup.
type ReceiptRepository interface {
	// SaveReceiptWithItems persists a receipt and its items atomically.
	// Writes are idempotent on (user_id, content_hash): re-processing the
	// same input is detected and becomes a no-op.
	SaveReceiptWithItems(ctx context.Context, r *entity.Receipt) (bool, error)

	// GetFilteredReceipts returns candidate receipts for the user. One
	// indexed dimension is used per call; remaining receipt-level filters
	// are applied after retrieval. An indexed-query error degrades to an
	// unfiltered per-user scan instead of failing the request.
	GetFilteredReceipts(ctx context.Context, userID int64, f entity.Filters) ([]*entity.Receipt, error)

	DeleteReceipt(ctx context.Context, userID int64, id uuid.UUID) (bool, error)

	// DeleteLastUploadedReceipt removes the most recently created receipt.
	// Returns (nil, nil) when the user has no receipts — a benign empty
	// result, not an error.
	DeleteLastUploadedReceipt(ctx context.Context, userID int64) (*entity.Receipt, error)

	DeleteAllReceipts(ctx context.Context, userID int64) (int64, error)

	CountUserReceipts(ctx context.Context, userID int64) (int64, error)

	Close()
}

// indexPath identifies which index-backed lookup serves a query.
type indexPath int

const (
	pathUserScan indexPath = iota
	pathPaymentMethod
	pathDateRange
	pathStoreName
)

func (p indexPath) String() string {
	switch p {
	case pathPaymentMethod:
		return "payment_method"
	case pathDateRange:
		return "date_range"
	case pathStoreName:
		return "store_name"
	default:
		return "user_scan"
	}
}

// chooseIndexPath picks the most selective available index-backed path.
// Priority: payment_method -> date_range -> store_name -> per-user scan.
// Only one indexed dimension is used per call; the rest are applied as
// secondary filters after retrieval.
func chooseIndexPath(f entity.Filters) indexPath {
	if len(f.PaymentMethods) > 0 {
		return pathPaymentMethod
	}
	if f.DateRange != nil && (f.DateRange.Start != "" || f.DateRange.End != "") {
		return pathDateRange
	}
	if len(f.StoreNames) > 0 {
		return pathStoreName
	}
	return pathUserScan
}

// applyReceiptFilters applies every receipt-level dimension in-process.
// Re-checking the indexed dimension is harmless and keeps the fallback
// scan path correct.
func applyReceiptFilters(receipts []*entity.Receipt, f entity.Filters) []*entity.Receipt {
	out := make([]*entity.Receipt, 0, len(receipts))
	for _, r := range receipts {
		if matchesReceiptFilters(r, f) {
			out = append(out, r)
		}
	}
	return out
}

func matchesReceiptFilters(r *entity.Receipt, f entity.Filters) bool {
	if len(f.PaymentMethods) > 0 && !containsFold(f.PaymentMethods, string(r.PaymentMethod)) {
		return false
	}
	if len(f.StoreNames) > 0 && !containsFold(f.StoreNames, r.StoreName) {
		return false
	}
	if f.DateRange != nil {
		day := r.Date.Format("2006-01-02")
		if f.DateRange.Start != "" && day < f.DateRange.Start {
			return false
		}
		if f.DateRange.End != "" && day > f.DateRange.End {
			return false
		}
	}
	if f.PriceRange != nil {
		total, _ := r.Total.Float64()
		if f.PriceRange.Min != nil && total < *f.PriceRange.Min {
			return false
		}
		if f.PriceRange.Max != nil && total > *f.PriceRange.Max {
			return false
		}
	}
	return true
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}

// dedupByID removes receipts that appear more than once when several
// index lookups return overlapping rows (e.g. per-store-name queries).
func dedupByID(receipts []*entity.Receipt) []*entity.Receipt {
	seen := make(map[uuid.UUID]struct{}, len(receipts))
	out := make([]*entity.Receipt, 0, len(receipts))
	for _, r := range receipts {
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	return out
}

func parseDay(s string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", s, time.UTC)
}
