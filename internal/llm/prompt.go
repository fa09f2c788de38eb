package llm

import (
	"encoding/json"
	"strings"
)

// BuildExtractSystemPrompt composes the extraction system message. The
// prompt assumes Israeli supermarket receipts: Hebrew item names, NIS
// amounts and DD/MM/YYYY dates are the common case.
func BuildExtractSystemPrompt(allowedCategories []string) string {
	var catLine string
	if len(allowedCategories) > 0 {
		catLine = "Each item MUST carry a 'category' that is exactly one of: " +
			strings.Join(allowedCategories, ", ") + ". If uncertain, choose 'other'. "
	} else {
		catLine = "Each item MUST carry a short, sensible 'category'; if uncertain, use 'other'. "
	}

	parts := []string{
		"You are a receipt parser for Israeli supermarket receipts. Return ONLY JSON that matches the provided JSON Schema.",
		"Keep item names exactly as printed, including Hebrew text. Do not translate.",
		"Dates on these receipts are usually DD/MM/YYYY; output the date as printed, or as YYYY-MM-DD if you must reformat.",
		"Amounts are in NIS. Strip currency symbols; output plain numbers.",
		catLine,
		"When an item has a more specific label (e.g. 'dairy', 'snacks'), put it in 'subcategory'.",
		"Discount and deposit lines belong to the nearest preceding item as a negative 'discount'; report the discount magnitude, sign does not matter.",
		"payment_method is 'cash', 'credit_card' or 'other'.",
		"Set 'confidence' between 0 and 1 for the extraction as a whole.",
		"Never output null. If a field is not readable, omit it.",
	}
	return strings.Join(parts, " ")
}

// BuildExtractUserPrompt packages the OCR text when there is any. With an
// image attached and no usable OCR, the model works from pixels alone.
func BuildExtractUserPrompt(req ExtractRequest) string {
	var b strings.Builder
	b.WriteString("Extract the receipt fields from the attached image.\n")
	ocr := strings.TrimSpace(req.OCRText)
	if ocr != "" {
		b.WriteString("\nOCR text (may contain recognition errors, prefer the image when they disagree):\n")
		if len(ocr) > 3000 {
			b.WriteString(ocr[:3000])
			b.WriteString("\n…(truncated)")
		} else {
			b.WriteString(ocr)
		}
	}
	return b.String()
}

// BuildPlanSystemPrompt composes the planning system message. today
// anchors relative date phrases so the model never guesses the calendar.
func BuildPlanSystemPrompt(aggregationTypes []string, today string) string {
	parts := []string{
		"You translate a user's question about their stored receipts into a JSON query plan. Return ONLY JSON that matches the provided JSON Schema.",
		"Supported aggregations: " + strings.Join(aggregationTypes, ", ") + ".",
		"Questions may be in Hebrew or English.",
		"Today is " + today + ". Resolve relative phrases like 'last week' or 'this month' into an explicit date_range with YYYY-MM-DD bounds.",
		"Only include filters the question actually implies. Do not invent stores, categories or price bounds.",
		"For item-level questions ('how much did I spend on milk'), use item_keywords with both the Hebrew and English variants of the word.",
		"If the question does not map to any supported aggregation, use count_receipts with no filters.",
	}
	return strings.Join(parts, " ")
}

// BuildAnswerPrompt phrases an aggregation result for the user. The
// result is embedded as JSON; the model only words it, never recomputes.
func BuildAnswerPrompt(question string, resultJSON []byte) string {
	var b strings.Builder
	b.WriteString("The user asked: ")
	b.WriteString(question)
	b.WriteString("\n\nThe computed answer is this JSON:\n")
	b.Write(resultJSON)
	b.WriteString("\n\nReply with one or two short sentences in the language of the question. ")
	b.WriteString("Use the numbers exactly as given with ₪ for amounts. Do not recalculate, do not add caveats.")
	return b.String()
}

// MustJSON renders v for embedding into a prompt.
func MustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
