// Package ocr extracts text from receipt images with tesseract and
// scores how usable the recognition is, so callers can decide between
// the text pipeline and a vision fallback.
package ocr

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// Runner lets us stub external commands in tests.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct {
	logger *slog.Logger
}

func (r execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	logger := r.logger
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	dur := time.Since(start)

	if err != nil {
		logger.Error("ocr.exec.failed",
			"cmd", name,
			"args", strings.Join(args, " "),
			"duration_ms", dur.Milliseconds(),
			"error", err,
			"stderr", truncate(errb.String(), 8<<10),
		)
	} else {
		logger.Debug("ocr.exec.ok",
			"cmd", name,
			"args", strings.Join(args, " "),
			"duration_ms", dur.Milliseconds(),
			"stdout_bytes", out.Len(),
			"stderr", truncate(stripTesseractNoise(errb.String()), 2<<10),
		)
	}

	return out.Bytes(), errb.Bytes(), err
}

// stripTesseractNoise drops the banner lines tesseract prints on every
// successful run, keeping real warnings visible in the debug log.
func stripTesseractNoise(s string) string {
	var kept []string
	for _, ln := range strings.Split(s, "\n") {
		t := strings.TrimSpace(ln)
		if t == "" ||
			strings.HasPrefix(t, "Estimating resolution") ||
			strings.HasPrefix(t, "Detected ") ||
			strings.HasPrefix(t, "Warning: Invalid resolution") {
			continue
		}
		kept = append(kept, t)
	}
	return strings.Join(kept, "\n")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
