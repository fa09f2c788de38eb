package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"receipt-bot/constants"
	"receipt-bot/internal/entity"
)

// sqliteRepository is the single-node storage variant. Dates and money
// are stored as TEXT (YYYY-MM-DD / fixed-point strings) so the exact
// decimal representation survives the round trip.
type sqliteRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenSQLite opens (and initializes) a SQLite-backed repository.
func OpenSQLite(path string, logger *slog.Logger) (ReceiptRepository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Single writer; also keeps :memory: databases on one connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &sqliteRepository{db: db, logger: logger}, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS receipts (
	id TEXT PRIMARY KEY,
	user_id INTEGER NOT NULL,
	store_name TEXT NOT NULL,
	date TEXT NOT NULL,
	total TEXT NOT NULL,
	payment_method TEXT NOT NULL,
	receipt_number TEXT,
	image_url TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL,
	created_at TEXT NOT NULL,
	UNIQUE (user_id, content_hash)
);
CREATE INDEX IF NOT EXISTS idx_receipts_user_payment ON receipts (user_id, payment_method);
CREATE INDEX IF NOT EXISTS idx_receipts_user_date ON receipts (user_id, date);
CREATE INDEX IF NOT EXISTS idx_receipts_user_store ON receipts (user_id, store_name);
CREATE TABLE IF NOT EXISTS receipt_items (
	id TEXT PRIMARY KEY,
	receipt_id TEXT NOT NULL REFERENCES receipts(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	name TEXT NOT NULL,
	price TEXT NOT NULL,
	quantity TEXT NOT NULL,
	category TEXT NOT NULL,
	subcategory TEXT NOT NULL DEFAULT '',
	discount TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_receipt_items_receipt ON receipt_items (receipt_id);
`

func (r *sqliteRepository) SaveReceiptWithItems(ctx context.Context, rec *entity.Receipt) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	hash := rec.ContentHash
	if hash == "" {
		hash = rec.ID.String()
	}

	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO receipts (id, user_id, store_name, date, total, payment_method, receipt_number, image_url, content_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID.String(), rec.UserID, rec.StoreName, rec.Date.Format("2006-01-02"),
		rec.Total.StringFixed(2), string(rec.PaymentMethod), rec.ReceiptNumber,
		rec.ImageURL, hash, rec.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return false, fmt.Errorf("insert receipt: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		r.logger.Info("repository.save.duplicate", "user_id", rec.UserID, "content_hash", hash)
		return false, nil
	}

	for i, it := range rec.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO receipt_items (id, receipt_id, position, name, price, quantity, category, subcategory, discount)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, uuid.New().String(), rec.ID.String(), i, it.Name, it.Price.StringFixed(2),
			it.Quantity.StringFixed(3), string(it.Category), it.Subcategory, it.Discount.StringFixed(2))
		if err != nil {
			return false, fmt.Errorf("insert item %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}
	return true, nil
}

func (r *sqliteRepository) GetFilteredReceipts(ctx context.Context, userID int64, f entity.Filters) ([]*entity.Receipt, error) {
	path := chooseIndexPath(f)
	r.logger.Debug("repository.query.path", "user_id", userID, "path", path.String())

	receipts, err := r.queryByPath(ctx, userID, f, path)
	if err != nil {
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

const sqliteReceiptColumns = `id, user_id, store_name, date, total, payment_method, receipt_number, image_url, content_hash, created_at`

func (r *sqliteRepository) queryByPath(ctx context.Context, userID int64, f entity.Filters, path indexPath) ([]*entity.Receipt, error) {
	switch path {
	case pathPaymentMethod:
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(f.PaymentMethods)), ",")
		args := []any{userID}
		for _, pm := range f.PaymentMethods {
			args = append(args, pm)
		}
		return r.scanRows(ctx, `
			SELECT `+sqliteReceiptColumns+`
			FROM receipts
			WHERE user_id = ? AND payment_method IN (`+placeholders+`)
		`, args...)

	case pathDateRange:
		start, end := "0001-01-01", "9999-12-31"
		if f.DateRange.Start != "" {
			start = f.DateRange.Start
		}
		if f.DateRange.End != "" {
			end = f.DateRange.End
		}
		return r.scanRows(ctx, `
			SELECT `+sqliteReceiptColumns+`
			FROM receipts
			WHERE user_id = ? AND date BETWEEN ? AND ?
		`, userID, start, end)

	case pathStoreName:
		var all []*entity.Receipt
		for _, name := range f.StoreNames {
			rows, err := r.scanRows(ctx, `
				SELECT `+sqliteReceiptColumns+`
				FROM receipts
				WHERE user_id = ? AND store_name LIKE ? COLLATE NOCASE
			`, userID, name)
			if err != nil {
				return nil, err
			}
			all = append(all, rows...)
		}
		return all, nil

	default:
		return r.scanRows(ctx, `
			SELECT `+sqliteReceiptColumns+`
			FROM receipts
			WHERE user_id = ?
		`, userID)
	}
}

func (r *sqliteRepository) scanRows(ctx context.Context, query string, args ...any) ([]*entity.Receipt, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query receipts: %w", err)
	}
	defer rows.Close()

	var out []*entity.Receipt
	for rows.Next() {
		var (
			rec           entity.Receipt
			id            string
			day           string
			totalText     string
			paymentMethod string
			createdAtText string
		)
		if err := rows.Scan(&id, &rec.UserID, &rec.StoreName, &day, &totalText,
			&paymentMethod, &rec.ReceiptNumber, &rec.ImageURL, &rec.ContentHash, &createdAtText); err != nil {
			return nil, fmt.Errorf("scan receipt: %w", err)
		}
		if rec.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("decode id %q: %w", id, err)
		}
		if rec.Date, err = parseDay(day); err != nil {
			return nil, fmt.Errorf("decode date %q: %w", day, err)
		}
		if rec.Total, err = decimal.NewFromString(totalText); err != nil {
			return nil, fmt.Errorf("decode total %q: %w", totalText, err)
		}
		if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAtText); err != nil {
			return nil, fmt.Errorf("decode created_at %q: %w", createdAtText, err)
		}
		rec.PaymentMethod = constants.PaymentMethod(paymentMethod)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (r *sqliteRepository) loadItems(ctx context.Context, receipts []*entity.Receipt) error {
	if len(receipts) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*entity.Receipt, len(receipts))
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(receipts)), ",")
	args := make([]any, 0, len(receipts))
	for _, rec := range receipts {
		byID[rec.ID] = rec
		args = append(args, rec.ID.String())
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT receipt_id, name, price, quantity, category, subcategory, discount
		FROM receipt_items
		WHERE receipt_id IN (`+placeholders+`)
		ORDER BY receipt_id, position
	`, args...)
	if err != nil {
		return fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			receiptID                 string
			it                        entity.ReceiptItem
			price, quantity, discount string
			category                  string
		)
		if err := rows.Scan(&receiptID, &it.Name, &price, &quantity, &category, &it.Subcategory, &discount); err != nil {
			return fmt.Errorf("scan item: %w", err)
		}
		rid, err := uuid.Parse(receiptID)
		if err != nil {
			return fmt.Errorf("decode item receipt_id %q: %w", receiptID, err)
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
		if rec, ok := byID[rid]; ok {
			rec.Items = append(rec.Items, it)
		}
	}
	return rows.Err()
}

func (r *sqliteRepository) DeleteReceipt(ctx context.Context, userID int64, id uuid.UUID) (bool, error) {
	if err := r.deleteItems(ctx, id); err != nil {
		return false, err
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM receipts WHERE user_id = ? AND id = ?`, userID, id.String())
	if err != nil {
		return false, fmt.Errorf("delete receipt: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

func (r *sqliteRepository) DeleteLastUploadedReceipt(ctx context.Context, userID int64) (*entity.Receipt, error) {
	rows, err := r.scanRows(ctx, `
		SELECT `+sqliteReceiptColumns+`
		FROM receipts
		WHERE user_id = ?
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
	if err := r.deleteItems(ctx, last.ID); err != nil {
		return nil, err
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM receipts WHERE id = ?`, last.ID.String()); err != nil {
		return nil, fmt.Errorf("delete last receipt: %w", err)
	}
	return last, nil
}

func (r *sqliteRepository) DeleteAllReceipts(ctx context.Context, userID int64) (int64, error) {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM receipt_items WHERE receipt_id IN (SELECT id FROM receipts WHERE user_id = ?)
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete user items: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM receipts WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete all receipts: %w", err)
	}
	return res.RowsAffected()
}

func (r *sqliteRepository) CountUserReceipts(ctx context.Context, userID int64) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM receipts WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count receipts: %w", err)
	}
	return n, nil
}

// deleteItems removes child rows explicitly; SQLite only enforces the
// cascade when foreign keys are enabled on the connection.
func (r *sqliteRepository) deleteItems(ctx context.Context, receiptID uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM receipt_items WHERE receipt_id = ?`, receiptID.String()); err != nil {
		return fmt.Errorf("delete items: %w", err)
	}
	return nil
}

func (r *sqliteRepository) Close() {
	_ = r.db.Close()
}
