package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	playground "github.com/go-playground/validator/v10"

	"receipt-bot/constants"
	"receipt-bot/internal/entity"
	"receipt-bot/internal/llm"
	"receipt-bot/internal/query"
	"receipt-bot/internal/repository"
)

// QueryService answers natural-language questions over stored receipts:
// plan → fetch → item filter → aggregate → phrase.
type QueryService struct {
	planner   llm.Planner
	responder llm.Responder // optional; nil means deterministic answers only
	repo      repository.ReceiptRepository
	validate  *playground.Validate
	logger    *slog.Logger
	now       func() time.Time
}

func NewQueryService(planner llm.Planner, responder llm.Responder, repo repository.ReceiptRepository, logger *slog.Logger) *QueryService {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryService{
		planner:   planner,
		responder: responder,
		repo:      repo,
		validate:  playground.New(),
		logger:    logger,
		now:       time.Now,
	}
}

// Answer resolves one question end to end and returns the reply text.
func (s *QueryService) Answer(ctx context.Context, userID int64, question string) (string, error) {
	start := time.Now()
	today := s.now().UTC().Format("2006-01-02")

	plan, rawPlan, err := s.planner.PlanQuery(ctx, question, today)
	if err != nil {
		s.logger.Error("query.plan.failed", "user_id", userID, "error", err)
		return "", fmt.Errorf("plan query: %w", err)
	}
	s.logger.Info("query.plan.ok", "user_id", userID, "aggregation", plan.Aggregation, "plan_bytes", len(rawPlan))

	if err := s.validate.Struct(plan); err != nil {
		s.logger.Warn("query.plan.invalid", "user_id", userID, "error", err)
		return "", fmt.Errorf("invalid query plan: %w", err)
	}

	receipts, err := s.repo.GetFilteredReceipts(ctx, userID, plan.Filters)
	if err != nil {
		s.logger.Error("query.fetch.failed", "user_id", userID, "error", err)
		return "", fmt.Errorf("fetch receipts: %w", err)
	}

	receipts = query.FilterByItems(receipts, plan.Filters)
	result := query.Aggregate(receipts, plan.Aggregation, plan.Filters)

	s.logger.Info("query.done",
		"user_id", userID,
		"aggregation", result.Type,
		"result_type", result.ResultType,
		"receipts", len(receipts),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if result.ResultType == entity.ResultError {
		return "", fmt.Errorf("aggregation failed: %s", result.Error)
	}

	if s.responder != nil {
		if text, err := s.responder.RenderAnswer(ctx, question, result); err == nil && strings.TrimSpace(text) != "" {
			return text, nil
		} else if err != nil {
			s.logger.Warn("query.render.fallback", "user_id", userID, "error", err)
		}
	}
	return FormatResult(result), nil
}

// FormatResult renders an aggregation result without an LLM. It is both
// the Responder fallback and the canonical plain rendering.
func FormatResult(r entity.AggregationResult) string {
	switch r.ResultType {
	case entity.ResultCount:
		if r.Type == constants.AggListStores {
			return fmt.Sprintf("%d stores", r.Count)
		}
		if r.Count == 1 {
			return "You have 1 receipt."
		}
		return fmt.Sprintf("You have %d receipts.", r.Count)

	case entity.ResultTotal:
		return fmt.Sprintf("Total: ₪%s across %d receipts.", r.Total.StringFixed(2), r.Count)

	case entity.ResultCategoryBreak, entity.ResultPaymentBreak:
		if len(r.Breakdown) == 0 {
			return "Nothing found for that question."
		}
		var b strings.Builder
		for _, k := range sortedKeys(r.Breakdown) {
			fmt.Fprintf(&b, "%s: ₪%s\n", k, r.Breakdown[k].StringFixed(2))
		}
		fmt.Fprintf(&b, "Total: ₪%s", r.GrandTotal.StringFixed(2))
		return b.String()

	case entity.ResultPriceByStore:
		if len(r.Breakdown) == 0 {
			return "Nothing found for that question."
		}
		var b strings.Builder
		for _, k := range sortedKeys(r.Breakdown) {
			fmt.Fprintf(&b, "%s: ₪%s\n", k, r.Breakdown[k].StringFixed(2))
		}
		return strings.TrimRight(b.String(), "\n")

	case entity.ResultStoreList:
		if len(r.Stores) == 0 {
			return "No stores found."
		}
		return "Stores: " + strings.Join(r.Stores, ", ")

	default:
		return "Nothing found for that question."
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
