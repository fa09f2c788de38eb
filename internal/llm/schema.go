package llm

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// BuildReceiptJSONSchema returns the structured-output constraint for
// extraction as a generic map (draft 2020-12 subset). It is deliberately
// structural: amounts may arrive as number or string, and nothing is
// required, because field-level rules and user-facing error reporting
// belong to the domain validator.
func BuildReceiptJSONSchema(allowedCategories []string) map[string]any {
	itemProps := map[string]any{
		"name":        map[string]any{"type": "string"},
		"price":       amountProp(),
		"quantity":    amountProp(),
		"category":    map[string]any{"type": "string"},
		"subcategory": map[string]any{"type": "string"},
		"discount":    amountProp(),
	}
	if len(allowedCategories) > 0 {
		itemProps["category"] = map[string]any{
			"type": "string",
			"enum": allowedCategories,
		}
	}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"store_name":     map[string]any{"type": "string"},
			"date":           map[string]any{"type": "string"},
			"payment_method": map[string]any{"type": "string"},
			"total":          amountProp(),
			"receipt_number": map[string]any{"type": "string"},
			"confidence":     map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
			"items": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"properties":           itemProps,
					"required":             []string{"name", "price"},
				},
			},
		},
	}
}

// BuildPlanJSONSchema constrains planner output to a known aggregation
// and the filter vocabulary the storage and item-filter layers accept.
func BuildPlanJSONSchema(aggregationTypes, paymentMethods []string) map[string]any {
	priceRange := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"min": map[string]any{"type": "number", "minimum": 0},
			"max": map[string]any{"type": "number", "minimum": 0},
		},
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"aggregation"},
		"properties": map[string]any{
			"aggregation": map[string]any{"type": "string", "enum": aggregationTypes},
			"filters": map[string]any{
				"type":                 "object",
				"additionalProperties": false,
				"properties": map[string]any{
					"date_range": map[string]any{
						"type":                 "object",
						"additionalProperties": false,
						"properties": map[string]any{
							"start": map[string]any{"type": "string", "pattern": `^\d{4}-\d{2}-\d{2}$`},
							"end":   map[string]any{"type": "string", "pattern": `^\d{4}-\d{2}-\d{2}$`},
						},
					},
					"store_names": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"payment_methods": map[string]any{
						"type":  "array",
						"items": map[string]any{"type": "string", "enum": paymentMethods},
					},
					"price_range":      priceRange,
					"categories":       map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"item_keywords":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"item_price_range": priceRange,
				},
			},
		},
	}
}

func amountProp() map[string]any {
	return map[string]any{
		"type": []string{"number", "string"},
	}
}

// ValidateJSONAgainstSchema validates data against schemaMap.
func ValidateJSONAgainstSchema(schemaMap map[string]any, data []byte) error {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}
