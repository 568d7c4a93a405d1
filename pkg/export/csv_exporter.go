package export

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
)

// Dataset defines tabular export content. Widths, when set, gives relative
// column widths for PDF output and must match Headers in length.
type Dataset struct {
	Title   string
	Notes   []string
	Headers []string
	Widths  []float64
	Rows    []map[string]string
}

var errNoHeaders = errors.New("dataset has no headers")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CSVExporter writes datasets as RFC 4180 CSV. Exports are opened by school
// staff in spreadsheets, so a BOM is prepended and cells that a spreadsheet
// would evaluate as formulas are quoted with a leading apostrophe.
type CSVExporter struct {
	bom bool
}

// NewCSVExporter builds a CSV exporter that prefixes a UTF-8 BOM.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{bom: true}
}

// Render produces the CSV body. Title and notes are left to the PDF form.
func (e *CSVExporter) Render(data Dataset) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, errNoHeaders
	}
	buf := &bytes.Buffer{}
	if e.bom {
		buf.Write(utf8BOM)
	}
	w := csv.NewWriter(buf)
	if err := w.Write(data.Headers); err != nil {
		return nil, fmt.Errorf("write csv headers: %w", err)
	}
	record := make([]string, len(data.Headers))
	for n, row := range data.Rows {
		for i, header := range data.Headers {
			record[i] = neutralizeFormula(row[header])
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row %d: %w", n+1, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func neutralizeFormula(cell string) string {
	if cell == "" {
		return cell
	}
	if strings.ContainsRune("=+-@\t\r", rune(cell[0])) {
		return "'" + cell
	}
	return cell
}
