package telegram

import (
	"errors"
	"fmt"
	"strings"

	"receipt-bot/internal/service"
	"receipt-bot/internal/validator"
)

const continuationNotice = "\n…(shortened)"

// TruncateReply bounds a reply to max runes, appending a continuation
// notice when content was cut. Telegram rejects messages over 4096
// characters outright.
func TruncateReply(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	keep := max - len([]rune(continuationNotice))
	if keep < 0 {
		keep = 0
	}
	return string(runes[:keep]) + continuationNotice
}

// FormatIngestResult renders the confirmation after a receipt is stored.
func FormatIngestResult(res *service.IngestResult) string {
	rec := res.Receipt
	if res.Duplicate {
		return fmt.Sprintf("Looks like I already have this receipt from %s (₪%s), skipped.",
			rec.StoreName, rec.Total.StringFixed(2))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Saved! %s, %s\n", rec.StoreName, rec.Date)
	fmt.Fprintf(&b, "Total: ₪%s (%s)\n", rec.Total.StringFixed(2), rec.PaymentMethod)
	fmt.Fprintf(&b, "Items: %d", len(rec.Items))
	return b.String()
}

// userFacing maps pipeline errors to reply text. Only validation errors
// carry a message meant for the user; everything else stays internal.
func userFacing(err error) (string, bool) {
	var vErr *validator.Error
	if errors.As(err, &vErr) {
		return "I couldn't make sense of that receipt: " + vErr.Message + "\nTry a sharper photo.", true
	}
	return "", false
}
