package ocr

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

type stubRunner struct {
	text string
	tsv  string
	err  error
	runs [][]string
}

func (s *stubRunner) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	s.runs = append(s.runs, append([]string{name}, args...))
	if s.err != nil {
		return nil, []byte("boom"), s.err
	}
	if args[len(args)-1] == "tsv" {
		return []byte(s.tsv), nil, nil
	}
	return []byte(s.text), nil, nil
}

func tsvWithConfidences(confs ...int) string {
	var b strings.Builder
	b.WriteString("level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n")
	for i, c := range confs {
		fmt.Fprintf(&b, "5\t1\t1\t1\t1\t%d\t0\t0\t10\t10\t%d\tword\n", i+1, c)
	}
	return b.String()
}

func TestExtractBlendsConfidence(t *testing.T) {
	stub := &stubRunner{
		text: "שופרסל דיל\n15/06/2025\nחלב 3% 6.50\nסהכ 42.80 ₪",
		tsv:  tsvWithConfidences(90, 80, 70),
	}
	e := NewExtractorWithRunner(Config{TesseractLang: "heb+eng", PSM: 6}, stub, nil)

	res, err := e.Extract(context.Background(), []byte("fake-png"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Text == "" {
		t.Error("text is empty")
	}
	// TSV mean is 0.80; heuristic sees date, amount, currency and Hebrew.
	if res.Confidence < 0.7 || res.Confidence > 1.0 {
		t.Errorf("confidence = %.2f, want in (0.7, 1.0]", res.Confidence)
	}
	if res.Language != "heb+eng" {
		t.Errorf("language = %s, want heb+eng", res.Language)
	}
	if len(stub.runs) != 2 {
		t.Fatalf("ran tesseract %d times, want 2 (text + tsv)", len(stub.runs))
	}
	foundPSM := false
	for _, arg := range stub.runs[0] {
		if arg == "--psm" {
			foundPSM = true
		}
	}
	if !foundPSM {
		t.Error("psm flag not passed to tesseract")
	}
}

func TestExtractCommandFailure(t *testing.T) {
	stub := &stubRunner{err: fmt.Errorf("exit status 1")}
	e := NewExtractorWithRunner(Config{}, stub, nil)

	_, err := e.Extract(context.Background(), []byte("fake-png"))
	if err == nil {
		t.Fatal("Extract succeeded, want error when tesseract fails")
	}
}

func TestHeuristicConfidence(t *testing.T) {
	tests := []struct {
		name string
		text string
		min  float64
		max  float64
	}{
		{"garbage", "@#$%^", 0.0, 0.3},
		{"rich hebrew receipt", "שופרסל 15/06/2025 חלב 6.50 סהכ 42.80 ₪ " + strings.Repeat("x", 120), 0.8, 1.0},
		{"amounts only", "6.50\n12.00", 0.3, 0.5},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := heuristicConfidence(tc.text)
			if got < tc.min || got > tc.max {
				t.Errorf("heuristicConfidence = %.2f, want in [%.2f, %.2f]", got, tc.min, tc.max)
			}
		})
	}
}

func TestStripTesseractNoise(t *testing.T) {
	in := "Estimating resolution as 300\nDetected 12 diacritics\nError in pixReadStream: png read failed\n"
	if got := stripTesseractNoise(in); got != "Error in pixReadStream: png read failed" {
		t.Errorf("stripTesseractNoise = %q, want only the real warning", got)
	}
	if got := stripTesseractNoise("Estimating resolution as 70\n"); got != "" {
		t.Errorf("stripTesseractNoise = %q, want empty for banner-only stderr", got)
	}
}
