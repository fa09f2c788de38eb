// Package export produces XLSX workbooks of a user's receipts.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"receipt-bot/internal/entity"
	"receipt-bot/internal/repository"
)

// Service is a tiny façade over the repository that renders receipts to
// XLSX bytes, one row per item.
type Service struct {
	repo   repository.ReceiptRepository
	logger *slog.Logger
}

func NewService(repo repository.ReceiptRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// ExportXLSX returns a workbook for the given user and date window.
// If only from is provided -> from..today (inclusive).
// If only to is provided   -> beginning..to (inclusive).
// If neither is provided   -> all receipts for the user.
func (s *Service) ExportXLSX(ctx context.Context, userID int64, from, to *time.Time) ([]byte, error) {
	start := time.Now()

	var dr *entity.DateRange
	if from != nil || to != nil {
		dr = &entity.DateRange{}
		if from != nil {
			dr.Start = from.UTC().Format("2006-01-02")
		}
		if to != nil {
			dr.End = to.UTC().Format("2006-01-02")
		} else if from != nil {
			dr.End = time.Now().UTC().Format("2006-01-02")
		}
	}

	recs, err := s.repo.GetFilteredReceipts(ctx, userID, entity.Filters{DateRange: dr})
	if err != nil {
		return nil, fmt.Errorf("query receipts: %w", err)
	}

	f := excelize.NewFile()
	const sheet = "Receipts"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)

	headers := []string{
		"Date",
		"Store",
		"Item",
		"Category",
		"Quantity",
		"Price",
		"Discount",
		"Line Total",
		"Payment",
		"Receipt Total",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	for _, r := range recs {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
		if len(r.Items) == 0 {
			write(1, r.Date.Format("2006-01-02"))
			write(2, r.StoreName)
			write(9, string(r.PaymentMethod))
			write(10, r.Total.StringFixed(2))
			row++
			continue
		}
		for _, it := range r.Items {
			write(1, r.Date.Format("2006-01-02"))
			write(2, r.StoreName)
			write(3, it.Name)
			write(4, string(it.Category))
			write(5, it.Quantity.StringFixed(3))
			write(6, it.Price.StringFixed(2))
			write(7, it.Discount.StringFixed(2))
			write(8, it.LineTotal().StringFixed(2))
			write(9, string(r.PaymentMethod))
			write(10, r.Total.StringFixed(2))
			row++
		}
	}

	_ = f.SetColWidth(sheet, "A", "A", 12)
	_ = f.SetColWidth(sheet, "B", "C", 26)
	_ = f.SetColWidth(sheet, "D", "D", 14)
	_ = f.SetColWidth(sheet, "E", "H", 11)
	_ = f.SetColWidth(sheet, "I", "J", 14)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"user_id", userID,
		"receipts", len(recs),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}
