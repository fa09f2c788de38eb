package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// UsableConfidenceThreshold is the score below which callers should
// prefer the vision fallback over the recognized text.
const UsableConfidenceThreshold = 0.6

type Config struct {
	Tesseract     string // binary name or absolute path; if empty -> "tesseract"
	TesseractLang string // default "heb+eng"
	TessdataDir   string
	PSM           int // 6 is good for a uniform block of text
	OEM           int // 1 = LSTM; leave 0 for default
}

type Result struct {
	Text       string
	Language   string
	Duration   time.Duration
	Warnings   []string
	Confidence float64
}

type Extractor struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewExtractor(cfg Config, logger *slog.Logger) *Extractor {
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.TesseractLang == "" {
		cfg.TesseractLang = "heb+eng"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{cfg: cfg, runner: execRunner{logger: logger}, logger: logger}
}

// NewExtractorWithRunner is for tests.
func NewExtractorWithRunner(cfg Config, runner Runner, logger *slog.Logger) *Extractor {
	e := NewExtractor(cfg, logger)
	e.runner = runner
	return e
}

// Extract recognizes text from one image held in memory. The image is
// spilled to a temp file because tesseract reads paths, not pipes.
func (e *Extractor) Extract(ctx context.Context, imageData []byte) (Result, error) {
	start := time.Now()

	tmpDir, err := os.MkdirTemp("", "receipt-ocr-*")
	if err != nil {
		return Result{}, fmt.Errorf("temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	path := filepath.Join(tmpDir, "receipt.png")
	if err := os.WriteFile(path, imageData, 0o600); err != nil {
		return Result{}, fmt.Errorf("write temp image: %w", err)
	}

	txt, warn, err := e.tesseractOCR(ctx, path)
	if err != nil {
		return Result{Warnings: warn, Duration: time.Since(start)}, err
	}

	var tsvConf float64
	if c, w, err := e.tesseractTSVConfidence(ctx, path); err == nil {
		tsvConf = c
	} else {
		warn = append(warn, w...)
		warn = append(warn, err.Error())
	}
	heurConf := heuristicConfidence(txt)

	// Blend, weighting the measured confidence higher when present.
	conf := heurConf
	if tsvConf > 0 {
		conf = 0.7*tsvConf + 0.3*heurConf
	}
	if conf > 1.0 {
		conf = 1.0
	}

	res := Result{
		Text:       txt,
		Language:   e.cfg.TesseractLang,
		Duration:   time.Since(start),
		Warnings:   warn,
		Confidence: conf,
	}
	e.logger.Debug("ocr.extract.done",
		"text_len", len(txt),
		"confidence", conf,
		"duration_ms", res.Duration.Milliseconds(),
	)
	return res, nil
}

func (e *Extractor) tesseractOCR(ctx context.Context, path string) (string, []string, error) {
	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, e.args(path, "")...)
	if err != nil {
		return "", []string{string(errb)}, fmt.Errorf("tesseract: %w", err)
	}
	return strings.TrimSpace(string(out)), nil, nil
}

// tesseractTSVConfidence runs tesseract in TSV mode and returns the mean
// word confidence in 0..1.
func (e *Extractor) tesseractTSVConfidence(ctx context.Context, path string) (float64, []string, error) {
	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, e.args(path, "tsv")...)
	if err != nil {
		return 0, []string{string(errb)}, fmt.Errorf("tesseract TSV: %w", err)
	}
	lines := strings.Split(string(out), "\n")
	var sum, n float64
	for i, ln := range lines {
		if i == 0 || len(ln) == 0 {
			continue // header
		}
		cols := strings.Split(ln, "\t")
		if len(cols) < 12 {
			continue
		}
		confStr := cols[len(cols)-2]
		if confStr == "" || confStr == "-1" {
			continue
		}
		if v, err := strconv.ParseFloat(confStr, 64); err == nil {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0, nil, nil
	}
	return sum / n / 100.0, nil, nil
}

func (e *Extractor) args(path, format string) []string {
	args := []string{path, "stdout", "-l", e.cfg.TesseractLang}
	if e.cfg.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(e.cfg.PSM))
	}
	if e.cfg.OEM > 0 {
		args = append(args, "--oem", strconv.Itoa(e.cfg.OEM))
	}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}
	if format != "" {
		args = append(args, format)
	}
	return args
}
