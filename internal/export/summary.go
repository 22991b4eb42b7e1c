package export

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"
)

const (
	reportsSheet    = "Reports"
	categoriesSheet = "Categories"
)

// reportColumns defines the Reports sheet header row.
var reportColumns = []string{
	"Report",
	"Eligible",
	"Category",
	"Others Description",
	"Fields",
	"Failed Extractors",
	"Elapsed (s)",
	"Error",
}

// SummaryRow is one processed report in the experiment workbook.
type SummaryRow struct {
	Name              string
	Eligible          bool
	Category          string
	OthersDescription string
	Fields            int
	FailedExtractors  []string
	Elapsed           float64
	Error             string
}

// WriteSummary writes an XLSX workbook with one row per report and a
// per-category count sheet.
func WriteSummary(w io.Writer, rows []SummaryRow) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", reportsSheet); err != nil {
		return fmt.Errorf("xlsx rename sheet: %w", err)
	}
	for i, h := range reportColumns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(reportsSheet, cell, h)
	}

	counts := map[string]int{}
	for i := range rows {
		r := &rows[i]
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(reportsSheet, cell, v)
		}
		write(1, r.Name)
		write(2, r.Eligible)
		write(3, r.Category)
		write(4, r.OthersDescription)
		write(5, r.Fields)
		write(6, strings.Join(r.FailedExtractors, ", "))
		write(7, r.Elapsed)
		write(8, r.Error)

		switch {
		case r.Error != "":
			counts["(error)"]++
		case !r.Eligible:
			counts["(not eligible)"]++
		default:
			counts[r.Category]++
		}
	}
	_ = f.SetColWidth(reportsSheet, "A", "A", 28)
	_ = f.SetColWidth(reportsSheet, "C", "D", 18)
	_ = f.SetColWidth(reportsSheet, "F", "F", 40)
	_ = f.SetColWidth(reportsSheet, "H", "H", 48)

	if _, err := f.NewSheet(categoriesSheet); err != nil {
		return fmt.Errorf("xlsx new sheet: %w", err)
	}
	_ = f.SetCellValue(categoriesSheet, "A1", "Category")
	_ = f.SetCellValue(categoriesSheet, "B1", "Reports")
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		_ = f.SetCellValue(categoriesSheet, fmt.Sprintf("A%d", i+2), k)
		_ = f.SetCellValue(categoriesSheet, fmt.Sprintf("B%d", i+2), counts[k])
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}
