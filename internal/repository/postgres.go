package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"receipt-bot/constants"
	"receipt-bot/internal/entity"
)

// Money columns are NUMERIC in the database and travel as text between
// the driver and the exact-decimal domain types. Conversion to floating
// point happens only at read boundaries that need it (filter bounds).

type postgresRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresRepository wraps an open pool.
func NewPostgresRepository(db *pgxpool.Pool, logger *slog.Logger) ReceiptRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &postgresRepository{db: db, logger: logger}
}

func (r *postgresRepository) SaveReceiptWithItems(ctx context.Context, rec *entity.Receipt) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	hash := rec.ContentHash
	if hash == "" {
		hash = rec.ID.String()
	}

	var insertedID uuid.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO receipts (id, user_id, store_name, date, total, payment_method, receipt_number, image_url, content_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id, content_hash) DO NOTHING
		RETURNING id
	`, rec.ID, rec.UserID, rec.StoreName, rec.Date, rec.Total.StringFixed(2),
		string(rec.PaymentMethod), rec.ReceiptNumber, rec.ImageURL, hash, rec.CreatedAt,
	).Scan(&insertedID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Duplicate write (queue redelivery): detected, no-op.
			r.logger.Info("repository.save.duplicate", "user_id", rec.UserID, "content_hash", hash)
			return false, nil
		}
		return false, fmt.Errorf("insert receipt: %w", err)
	}

	for i, it := range rec.Items {
		_, err = tx.Exec(ctx, `
			INSERT INTO receipt_items (id, receipt_id, position, name, price, quantity, category, subcategory, discount)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, uuid.New(), rec.ID, i, it.Name, it.Price.StringFixed(2), it.Quantity.StringFixed(3),
			string(it.Category), it.Subcategory, it.Discount.StringFixed(2))
		if err != nil {
			return false, fmt.Errorf("insert item %d: %w", i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}
	return true, nil
}

func (r *postgresRepository) GetFilteredReceipts(ctx context.Context, userID int64, f entity.Filters) ([]*entity.Receipt, error) {
	path := chooseIndexPath(f)
	r.logger.Debug("repository.query.path", "user_id", userID, "path", path.String())

	receipts, err := r.queryByPath(ctx, userID, f, path)
	if err != nil {
		// Indexed lookup failed; degrade to an unfiltered per-user scan
		// rather than fail the request.
		r.logger.Warn("repository.query.index_fallback", "user_id", userID, "path", path.String(), "error", err)
		receipts, err = r.queryByPath(ctx, userID, f, pathUserScan)
		if err != nil {
			return nil, fmt.Errorf("user scan: %w", err)
		}
	}

	receipts = dedupByID(receipts)
	receipts = applyReceiptFilters(receipts, f)

	if err := r.loadItems(ctx, receipts); err != nil {
		return nil, err
	}
	return receipts, nil
}

const receiptColumns = `id, user_id, store_name, date, total::text, payment_method, receipt_number, image_url, content_hash, created_at`

func (r *postgresRepository) queryByPath(ctx context.Context, userID int64, f entity.Filters, path indexPath) ([]*entity.Receipt, error) {
	switch path {
	case pathPaymentMethod:
		return r.scanRows(ctx, `
			SELECT `+receiptColumns+`
			FROM receipts
			WHERE user_id = $1 AND payment_method = ANY($2)
		`, userID, f.PaymentMethods)

	case pathDateRange:
		start, end := "0001-01-01", "9999-12-31"
		if f.DateRange.Start != "" {
			start = f.DateRange.Start
		}
		if f.DateRange.End != "" {
			end = f.DateRange.End
		}
		startDay, err := parseDay(start)
		if err != nil {
			return nil, fmt.Errorf("bad start date: %w", err)
		}
		endDay, err := parseDay(end)
		if err != nil {
			return nil, fmt.Errorf("bad end date: %w", err)
		}
		return r.scanRows(ctx, `
			SELECT `+receiptColumns+`
			FROM receipts
			WHERE user_id = $1 AND date BETWEEN $2 AND $3
		`, userID, startDay, endDay)

	case pathStoreName:
		// One lookup per store name; overlapping rows are deduplicated
		// by the caller.
		var all []*entity.Receipt
		for _, name := range f.StoreNames {
			rows, err := r.scanRows(ctx, `
				SELECT `+receiptColumns+`
				FROM receipts
				WHERE user_id = $1 AND store_name ILIKE $2
			`, userID, name)
			if err != nil {
				return nil, err
			}
			all = append(all, rows...)
		}
		return all, nil

	default:
		return r.scanRows(ctx, `
			SELECT `+receiptColumns+`
			FROM receipts
			WHERE user_id = $1
		`, userID)
	}
}

func (r *postgresRepository) scanRows(ctx context.Context, sql string, args ...any) ([]*entity.Receipt, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query receipts: %w", err)
	}
	defer rows.Close()

	var out []*entity.Receipt
	for rows.Next() {
		var (
			rec           entity.Receipt
			totalText     string
			paymentMethod string
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.StoreName, &rec.Date, &totalText,
			&paymentMethod, &rec.ReceiptNumber, &rec.ImageURL, &rec.ContentHash, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		rec.Total, err = decimal.NewFromString(totalText)
		if err != nil {
			return nil, fmt.Errorf("decode total %q: %w", totalText, err)
		}
		rec.PaymentMethod = constants.PaymentMethod(paymentMethod)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (r *postgresRepository) loadItems(ctx context.Context, receipts []*entity.Receipt) error {
	if len(receipts) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(receipts))
	byID := make(map[uuid.UUID]*entity.Receipt, len(receipts))
	for i, rec := range receipts {
		ids[i] = rec.ID
		byID[rec.ID] = rec
	}

	rows, err := r.db.Query(ctx, `
		SELECT receipt_id, name, price::text, quantity::text, category, subcategory, discount::text
		FROM receipt_items
		WHERE receipt_id = ANY($1)
		ORDER BY receipt_id, position
	`, ids)
	if err != nil {
		return fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			receiptID                 uuid.UUID
			it                        entity.ReceiptItem
			price, quantity, discount string
			category                  string
		)
		if err := rows.Scan(&receiptID, &it.Name, &price, &quantity, &category, &it.Subcategory, &discount); err != nil {
			return fmt.Errorf("scan item: %w", err)
		}
		if it.Price, err = decimal.NewFromString(price); err != nil {
			return fmt.Errorf("decode price %q: %w", price, err)
		}
		if it.Quantity, err = decimal.NewFromString(quantity); err != nil {
			return fmt.Errorf("decode quantity %q: %w", quantity, err)
		}
		if it.Discount, err = decimal.NewFromString(discount); err != nil {
			return fmt.Errorf("decode discount %q: %w", discount, err)
		}
		it.Category = constants.Category(category)
		if rec, ok := byID[receiptID]; ok {
			rec.Items = append(rec.Items, it)
		}
	}
	return rows.Err()
}

func (r *postgresRepository) DeleteReceipt(ctx context.Context, userID int64, id uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM receipts WHERE user_id = $1 AND id = $2`, userID, id)
	if err != nil {
		return false, fmt.Errorf("delete receipt: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *postgresRepository) DeleteLastUploadedReceipt(ctx context.Context, userID int64) (*entity.Receipt, error) {
	rows, err := r.scanRows(ctx, `
		SELECT `+receiptColumns+`
		FROM receipts
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, userID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	last := rows[0]
	if _, err := r.db.Exec(ctx, `DELETE FROM receipts WHERE id = $1`, last.ID); err != nil {
		return nil, fmt.Errorf("delete last receipt: %w", err)
	}
	return last, nil
}

func (r *postgresRepository) DeleteAllReceipts(ctx context.Context, userID int64) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM receipts WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete all receipts: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *postgresRepository) CountUserReceipts(ctx context.Context, userID int64) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM receipts WHERE user_id = $1`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count receipts: %w", err)
	}
	return n, nil
}

func (r *postgresRepository) Close() {
	r.db.Close()
}
