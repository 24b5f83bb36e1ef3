package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
)

func isPDF(data []byte) bool {
	return mimetype.Detect(data).Is("application/pdf")
}

func openPDF(data []byte) (*pdf.Reader, error) {
	if !isPDF(data) {
		return nil, ErrUnsupported
	}
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	return r, nil
}

// PDFTextStrategy reads the PDF text layer in content-stream order.
type PDFTextStrategy struct{}

func (PDFTextStrategy) Name() string { return "pdf_text" }

func (PDFTextStrategy) Attempt(ctx context.Context, data []byte) (string, error) {
	r, err := openPDF(data)
	if err != nil {
		return "", err
	}

	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read text layer: %w", err)
	}

	var b strings.Builder
	if _, err := io.Copy(&b, plain); err != nil {
		return "", fmt.Errorf("read text layer: %w", err)
	}
	return b.String(), ctx.Err()
}

// PDFRowsStrategy rebuilds each page line by line from glyph positions, which
// keeps statement tables readable as aligned rows.
type PDFRowsStrategy struct{}

func (PDFRowsStrategy) Name() string { return "pdf_rows" }

func (PDFRowsStrategy) Attempt(ctx context.Context, data []byte) (string, error) {
	r, err := openPDF(data)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}

		rows, err := page.GetTextByRow()
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}

		fmt.Fprintf(&b, "--- Page %d ---\n", i)
		for _, row := range rows {
			line := joinRow(row.Content)
			if line == "" {
				continue
			}
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}
	return b.String(), nil
}

// joinRow orders glyph runs left to right and separates runs with a gap wider
// than one space. Wide gaps become a column separator.
func joinRow(texts pdf.TextHorizontal) string {
	if len(texts) == 0 {
		return ""
	}
	sorted := make([]pdf.Text, len(texts))
	copy(sorted, texts)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].X < sorted[j].X })

	var b strings.Builder
	prevEnd := math.Inf(-1)
	for _, t := range sorted {
		if b.Len() > 0 {
			gap := t.X - prevEnd
			space := t.FontSize * 0.25
			switch {
			case gap > t.FontSize*2:
				b.WriteString(" | ")
			case gap > space:
				b.WriteByte(' ')
			}
		}
		b.WriteString(t.S)
		prevEnd = t.X + t.W
	}
	return strings.TrimSpace(b.String())
}
