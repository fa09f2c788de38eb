package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"receipt-bot/constants"
	"receipt-bot/internal/entity"
	"receipt-bot/internal/llm"
)

// ExtractReceipt implements llm.Extractor over chat/completions with the
// receipt image attached as a data URL.
func (c *Client) ExtractReceipt(ctx context.Context, req llm.ExtractRequest) (map[string]any, []byte, error) {
	rid := uuid.New().String()
	start := time.Now()

	c.log.Info("llm.extract.start",
		"req_id", rid,
		"provider", "openai",
		"model", c.cfg.Model,
		"image_bytes", len(req.ImageData),
		"ocr_text_len", len(req.OCRText),
		"ocr_confidence", req.OCRConfidence,
	)

	schema := llm.BuildReceiptJSONSchema(c.categories)
	userParts := []map[string]any{
		{"type": "text", "text": llm.BuildExtractUserPrompt(req)},
	}
	if len(req.ImageData) > 0 {
		userParts = append(userParts, map[string]any{
			"type":      "image_url",
			"image_url": map[string]any{"url": dataURL(req.ImageData, req.ImageMIME)},
		})
	}

	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": llm.BuildExtractSystemPrompt(c.categories)},
			{"role": "system", "content": "JSON Schema:\n" + llm.MustJSON(schema)},
			{"role": "user", "content": userParts},
		},
	}

	content, err := c.chat(ctx, body)
	if err != nil {
		c.log.Error("llm.extract.http_error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, nil, err
	}

	doc, rawJSON, err := llm.DecodeLenient(content)
	if err != nil {
		c.log.Error("llm.extract.decode_error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, []byte(content), err
	}
	if err := llm.ValidateJSONAgainstSchema(schema, rawJSON); err != nil {
		// Structural mismatch is logged but not fatal; the domain
		// validator reports field problems to the user with context.
		c.log.Warn("llm.extract.schema_mismatch", "req_id", rid, "error", err)
	}

	c.log.Info("llm.extract.ok",
		"req_id", rid,
		"store", doc["store_name"],
		"items", lenOfAny(doc["items"]),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return doc, rawJSON, nil
}

// PlanQuery implements llm.Planner.
func (c *Client) PlanQuery(ctx context.Context, question string, today string) (entity.QueryPlan, []byte, error) {
	rid := uuid.New().String()
	start := time.Now()

	c.log.Info("llm.plan.start", "req_id", rid, "provider", "openai", "question_len", len(question))

	schema := llm.BuildPlanJSONSchema(constants.AggregationTypesAsStrings(), constants.PaymentMethodsAsStrings())
	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": llm.BuildPlanSystemPrompt(constants.AggregationTypesAsStrings(), today)},
			{"role": "system", "content": "JSON Schema:\n" + llm.MustJSON(schema)},
			{"role": "user", "content": question},
		},
	}

	content, err := c.chat(ctx, body)
	if err != nil {
		c.log.Error("llm.plan.http_error", "req_id", rid, "error", err)
		return entity.QueryPlan{}, nil, err
	}

	_, rawJSON, err := llm.DecodeLenient(content)
	if err != nil {
		c.log.Error("llm.plan.decode_error", "req_id", rid, "error", err)
		return entity.QueryPlan{}, []byte(content), err
	}
	if err := llm.ValidateJSONAgainstSchema(schema, rawJSON); err != nil {
		c.log.Error("llm.plan.schema_validation_failed", "req_id", rid, "error", err)
		return entity.QueryPlan{}, rawJSON, fmt.Errorf("plan schema validation failed: %w", err)
	}

	var plan entity.QueryPlan
	if err := json.Unmarshal(rawJSON, &plan); err != nil {
		return entity.QueryPlan{}, rawJSON, fmt.Errorf("unmarshal plan: %w", err)
	}

	c.log.Info("llm.plan.ok",
		"req_id", rid,
		"aggregation", plan.Aggregation,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return plan, rawJSON, nil
}

// RenderAnswer implements llm.Responder.
func (c *Client) RenderAnswer(ctx context.Context, question string, result entity.AggregationResult) (string, error) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}
	body := map[string]any{
		"model":       c.cfg.Model,
		"temperature": c.cfg.Temperature,
		"messages": []map[string]any{
			{"role": "user", "content": llm.BuildAnswerPrompt(question, resultJSON)},
		},
	}
	content, err := c.chat(ctx, body)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

func (c *Client) chat(ctx context.Context, body map[string]any) (string, error) {
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}

	raw, status, err := llm.SendJSON(ctx, c.httpClient, endpoint, body, headers, c.log)
	if err != nil {
		return "", fmt.Errorf("openai status %d: %w", status, err)
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return "", fmt.Errorf("decode openai response: %w", err)
	}
	if len(cc.Choices) == 0 {
		return "", fmt.Errorf("no choices in openai response")
	}
	return strings.TrimSpace(cc.Choices[0].Message.Content), nil
}

func dataURL(data []byte, mimeType string) string {
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func lenOfAny(v any) int {
	if s, ok := v.([]any); ok {
		return len(s)
	}
	return 0
}
