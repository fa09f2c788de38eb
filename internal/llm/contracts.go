// Package llm defines the provider contracts for receipt extraction,
// query planning and answer rendering, plus the shared prompt/schema
// material and response plumbing the provider clients build on.
package llm

import (
	"context"

	"receipt-bot/internal/entity"
)

// ExtractRequest carries one receipt image (possibly pre-stitched) and
// whatever OCR produced for it. OCRText may be empty when the OCR stage
// is disabled or failed; the providers then run vision-only.
type ExtractRequest struct {
	ImageData     []byte
	ImageMIME     string
	OCRText       string
	OCRConfidence float64
}

// Extractor turns a receipt image into a raw field document. The map is
// handed to the domain validator untyped on purpose: field-level rules,
// coercion and error reporting live there, not in the provider.
type Extractor interface {
	ExtractReceipt(ctx context.Context, req ExtractRequest) (map[string]any, []byte /*rawJSON*/, error)
}

// Planner derives a structured query plan from a natural-language
// question. today anchors relative phrases ("last week") to a date.
type Planner interface {
	PlanQuery(ctx context.Context, question string, today string) (entity.QueryPlan, []byte, error)
}

// Responder phrases an aggregation result as a short natural-language
// answer in the language of the question. Callers must keep a
// deterministic fallback: a Responder error never fails the query.
type Responder interface {
	RenderAnswer(ctx context.Context, question string, result entity.AggregationResult) (string, error)
}
