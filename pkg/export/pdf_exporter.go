package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

const (
	pageWidth  = 190.0
	lineHeight = 6.0
)

// PDFExporter renders datasets into a tabular PDF. Long cells wrap, so the
// layout suits free-text columns such as negotiation messages.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Render creates a PDF document with an optional title, note lines and table body.
func (e *PDFExporter) Render(data Dataset) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("pdf requires at least one header")
	}
	widths, err := columnWidths(data)
	if err != nil {
		return nil, err
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 15, 10)
	pdf.SetAutoPageBreak(true, 15)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	if data.Title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 10, tr(strings.ToUpper(data.Title)), "", 1, "C", false, 0, "")
	}
	if len(data.Notes) > 0 {
		pdf.SetFont("Arial", "", 9)
		for _, note := range data.Notes {
			pdf.CellFormat(0, 5, tr(note), "", 1, "L", false, 0, "")
		}
	}
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 10)
	for i, header := range data.Headers {
		pdf.CellFormat(widths[i], 8, tr(header), "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 9)
	for _, row := range data.Rows {
		height := rowHeight(pdf, data.Headers, widths, row, tr)
		if pdf.GetY()+height > 282 {
			pdf.AddPage()
		}
		x, y := pdf.GetXY()
		for i, header := range data.Headers {
			pdf.Rect(x, y, widths[i], height, "D")
			pdf.MultiCell(widths[i], lineHeight, tr(row[header]), "", "L", false)
			x += widths[i]
			pdf.SetXY(x, y)
		}
		pdf.SetXY(10, y+height)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func columnWidths(data Dataset) ([]float64, error) {
	widths := make([]float64, len(data.Headers))
	if len(data.Widths) == 0 {
		for i := range widths {
			widths[i] = pageWidth / float64(len(data.Headers))
		}
		return widths, nil
	}
	if len(data.Widths) != len(data.Headers) {
		return nil, fmt.Errorf("pdf widths (%d) do not match headers (%d)", len(data.Widths), len(data.Headers))
	}
	var total float64
	for _, w := range data.Widths {
		if w <= 0 {
			return nil, fmt.Errorf("pdf widths must be positive")
		}
		total += w
	}
	for i, w := range data.Widths {
		widths[i] = pageWidth * w / total
	}
	return widths, nil
}

func rowHeight(pdf *gofpdf.Fpdf, headers []string, widths []float64, row map[string]string, tr func(string) string) float64 {
	lines := 1
	for i, header := range headers {
		split := pdf.SplitLines([]byte(tr(row[header])), widths[i]-2)
		if len(split) > lines {
			lines = len(split)
		}
	}
	return float64(lines) * lineHeight
}
