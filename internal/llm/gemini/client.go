// Package gemini backs the llm contracts with Google Gemini models via
// the generative-ai-go SDK.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"receipt-bot/constants"
	"receipt-bot/internal/entity"
	"receipt-bot/internal/llm"
)

const maxAttempts = 3

type Client struct {
	apiKey     string
	model      string
	log        *slog.Logger
	categories []string
}

// NewClient builds a Gemini-backed provider. categories constrains the
// extraction schema enum.
func NewClient(apiKey, model string, categories []string, logger *slog.Logger) *Client {
	if model == "" {
		model = "gemini-1.5-flash"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		apiKey:     strings.TrimSpace(apiKey),
		model:      strings.TrimSpace(model),
		log:        logger,
		categories: categories,
	}
}

// ExtractReceipt implements llm.Extractor.
func (c *Client) ExtractReceipt(ctx context.Context, req llm.ExtractRequest) (map[string]any, []byte, error) {
	schema := llm.BuildReceiptJSONSchema(c.categories)
	system := llm.BuildExtractSystemPrompt(c.categories) +
		"\n\nJSON Schema:\n" + llm.MustJSON(schema)

	parts := []genai.Part{genai.Text(llm.BuildExtractUserPrompt(req))}
	if len(req.ImageData) > 0 {
		mimeType := req.ImageMIME
		if mimeType == "" {
			mimeType = "image/jpeg"
		}
		parts = append(parts, &genai.Blob{MIMEType: mimeType, Data: req.ImageData})
	}

	content, err := c.generate(ctx, system, parts)
	if err != nil {
		c.log.Error("llm.extract.gemini_error", "error", err)
		return nil, nil, err
	}

	doc, rawJSON, err := llm.DecodeLenient(content)
	if err != nil {
		return nil, []byte(content), err
	}
	if err := llm.ValidateJSONAgainstSchema(schema, rawJSON); err != nil {
		c.log.Warn("llm.extract.schema_mismatch", "provider", "gemini", "error", err)
	}
	return doc, rawJSON, nil
}

// PlanQuery implements llm.Planner.
func (c *Client) PlanQuery(ctx context.Context, question string, today string) (entity.QueryPlan, []byte, error) {
	schema := llm.BuildPlanJSONSchema(constants.AggregationTypesAsStrings(), constants.PaymentMethodsAsStrings())
	system := llm.BuildPlanSystemPrompt(constants.AggregationTypesAsStrings(), today) +
		"\n\nJSON Schema:\n" + llm.MustJSON(schema)

	content, err := c.generate(ctx, system, []genai.Part{genai.Text(question)})
	if err != nil {
		c.log.Error("llm.plan.gemini_error", "error", err)
		return entity.QueryPlan{}, nil, err
	}

	_, rawJSON, err := llm.DecodeLenient(content)
	if err != nil {
		return entity.QueryPlan{}, []byte(content), err
	}
	if err := llm.ValidateJSONAgainstSchema(schema, rawJSON); err != nil {
		return entity.QueryPlan{}, rawJSON, fmt.Errorf("plan schema validation failed: %w", err)
	}

	var plan entity.QueryPlan
	if err := json.Unmarshal(rawJSON, &plan); err != nil {
		return entity.QueryPlan{}, rawJSON, fmt.Errorf("unmarshal plan: %w", err)
	}
	return plan, rawJSON, nil
}

// RenderAnswer implements llm.Responder.
func (c *Client) RenderAnswer(ctx context.Context, question string, result entity.AggregationResult) (string, error) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("marshal result: %w", err)
	}
	return c.generateText(ctx, "", []genai.Part{genai.Text(llm.BuildAnswerPrompt(question, resultJSON))})
}

// generate runs a JSON-constrained generation with bounded retries on
// transient failures.
func (c *Client) generate(ctx context.Context, system string, parts []genai.Part) (string, error) {
	return c.run(ctx, system, parts, "application/json")
}

func (c *Client) generateText(ctx context.Context, system string, parts []genai.Part) (string, error) {
	return c.run(ctx, system, parts, "")
}

func (c *Client) run(ctx context.Context, system string, parts []genai.Part, responseMIME string) (string, error) {
	if c.apiKey == "" {
		return "", errors.New("gemini api key is empty")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(c.apiKey))
	if err != nil {
		return "", fmt.Errorf("gemini client: %w", err)
	}
	defer cl.Close()

	m := cl.GenerativeModel(c.model)
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      ptrFloat32(0),
		ResponseMIMEType: responseMIME,
	}
	if system != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := m.GenerateContent(ctx, parts...)
		if err != nil {
			lastErr = err
			c.log.Warn("llm.gemini.retry", "attempt", attempt, "error", err)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * 300 * time.Millisecond):
			}
			continue
		}
		txt := firstText(resp)
		if txt == "" {
			return "", fmt.Errorf("gemini: empty response")
		}
		return llm.StripCodeFences(txt), nil
	}
	return "", lastErr
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok && strings.TrimSpace(string(t)) != "" {
				return strings.TrimSpace(string(t))
			}
		}
	}
	return ""
}

func ptrFloat32(f float32) *float32 { return &f }
