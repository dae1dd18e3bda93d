package docpipe

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// extractXlsx writes a "Sheet: <name>" header per sheet in workbook order,
// then one line per row holding the row's string cells separated by
// spaces. Sheets are separated by a blank line.
func extractXlsx(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: workbook: %w", ErrMalformed, err)
	}
	defer f.Close()

	var sheets []string
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name, excelize.Options{RawCellValue: true})
		if err != nil {
			return "", fmt.Errorf("%w: sheet %q: %w", ErrDecode, name, err)
		}
		var sb strings.Builder
		sb.WriteString("Sheet: ")
		sb.WriteString(name)
		sb.WriteByte('\n')
		for r, row := range rows {
			var cells []string
			for c, value := range row {
				if value == "" {
					continue
				}
				if stringCell(f, name, c+1, r+1) {
					cells = append(cells, value)
				}
			}
			sb.WriteString(strings.Join(cells, " "))
			sb.WriteByte('\n')
		}
		sheets = append(sheets, sb.String())
	}
	return strings.Join(sheets, "\n"), nil
}

func stringCell(f *excelize.File, sheet string, col, row int) bool {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return false
	}
	typ, err := f.GetCellType(sheet, cell)
	if err != nil {
		return false
	}
	switch typ {
	case excelize.CellTypeSharedString, excelize.CellTypeInlineString, excelize.CellTypeFormula:
		return true
	}
	return false
}
