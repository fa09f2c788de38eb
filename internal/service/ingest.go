// Package service wires the receipt pipeline end to end: photos in,
// persisted receipts out, and natural-language questions answered over
// what was stored.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"receipt-bot/internal/entity"
	"receipt-bot/internal/imaging"
	"receipt-bot/internal/llm"
	"receipt-bot/internal/objstore"
	"receipt-bot/internal/ocr"
	"receipt-bot/internal/repository"
	"receipt-bot/internal/validator"
)

// OCRRunner is the slice of the OCR extractor the pipeline needs.
type OCRRunner interface {
	Extract(ctx context.Context, imageData []byte) (ocr.Result, error)
}

// IngestResult summarizes one stored receipt for the user reply.
type IngestResult struct {
	Receipt   *entity.ReceiptData
	Duplicate bool
}

type Ingest struct {
	extractor llm.Extractor
	ocr       OCRRunner // nil when the OCR stage is disabled
	validator *validator.Validator
	repo      repository.ReceiptRepository
	images    objstore.Store
	logger    *slog.Logger
}

func NewIngest(
	extractor llm.Extractor,
	ocrRunner OCRRunner,
	v *validator.Validator,
	repo repository.ReceiptRepository,
	images objstore.Store,
	logger *slog.Logger,
) *Ingest {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingest{
		extractor: extractor,
		ocr:       ocrRunner,
		validator: v,
		repo:      repo,
		images:    images,
		logger:    logger,
	}
}

// ProcessReceipt runs one receipt through the full pipeline:
// stitch → OCR → extract → validate → persist. Validation failures come
// back as *validator.Error so callers can show the message verbatim.
func (s *Ingest) ProcessReceipt(ctx context.Context, userID int64, images [][]byte) (*IngestResult, error) {
	reqID := uuid.New().String()
	start := time.Now()
	s.logger.Info("ingest.start", "req_id", reqID, "user_id", userID, "photos", len(images))

	stitched, err := imaging.Stitch(images, s.logger)
	if err != nil {
		return nil, fmt.Errorf("stitch: %w", err)
	}
	s.logger.Debug("ingest.stitch.done", "req_id", reqID, "bytes", len(stitched))

	hash := sha256.Sum256(stitched)
	contentHash := hex.EncodeToString(hash[:])

	// OCR is best-effort: a failure or unusable confidence just means
	// the model works from pixels alone.
	var ocrText string
	var ocrConf float64
	method := "vision-llm"
	if s.ocr != nil {
		res, err := s.ocr.Extract(ctx, stitched)
		switch {
		case err != nil:
			s.logger.Warn("ingest.ocr.failed", "req_id", reqID, "error", err)
		case res.Confidence < ocr.UsableConfidenceThreshold:
			s.logger.Info("ingest.ocr.low_confidence", "req_id", reqID, "confidence", res.Confidence)
		default:
			ocrText = res.Text
			ocrConf = res.Confidence
			method = "ocr+llm"
		}
	}

	raw, _, err := s.extractor.ExtractReceipt(ctx, llm.ExtractRequest{
		ImageData:     stitched,
		ImageMIME:     "image/png",
		OCRText:       ocrText,
		OCRConfidence: ocrConf,
	})
	if err != nil {
		s.logger.Error("ingest.extract.failed", "req_id", reqID, "error", err)
		return nil, fmt.Errorf("extract receipt: %w", err)
	}

	data, err := s.validator.Validate(raw)
	if err != nil {
		s.logger.Info("ingest.validate.rejected", "req_id", reqID, "error", err)
		return nil, err
	}
	data.ProcessingMethod = method

	imageRef := ""
	if s.images != nil {
		ref, err := s.images.Put(ctx, userID, contentHash+".png", stitched)
		if err != nil {
			s.logger.Warn("ingest.image_store.failed", "req_id", reqID, "error", err)
		} else {
			imageRef = ref
		}
	}

	date, err := time.Parse("2006-01-02", data.Date)
	if err != nil {
		return nil, fmt.Errorf("parse normalized date %q: %w", data.Date, err)
	}

	rec := &entity.Receipt{
		ID:            uuid.New(),
		UserID:        userID,
		StoreName:     data.StoreName,
		Date:          date,
		Total:         data.Total,
		PaymentMethod: data.PaymentMethod,
		ReceiptNumber: data.ReceiptNumber,
		ImageURL:      imageRef,
		ContentHash:   contentHash,
		CreatedAt:     time.Now().UTC(),
		Items:         data.Items,
	}

	inserted, err := s.repo.SaveReceiptWithItems(ctx, rec)
	if err != nil {
		s.logger.Error("ingest.save.failed", "req_id", reqID, "error", err)
		return nil, fmt.Errorf("save receipt: %w", err)
	}

	s.logger.Info("ingest.done",
		"req_id", reqID,
		"user_id", userID,
		"store", data.StoreName,
		"total", data.Total.StringFixed(2),
		"items", len(data.Items),
		"method", method,
		"duplicate", !inserted,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return &IngestResult{Receipt: data, Duplicate: !inserted}, nil
}
