package loader

import (
	"fmt"
	"strings"

	"github.com/andresuchdata/supplyplan/internal/reconcile"
	"github.com/xuri/excelize/v2"
)

// headerSearchRows bounds how far down the sheet the SKU header row may sit
const headerSearchRows = 5

// ReadProductionMatrixFile reads the first sheet of a production workbook laid out as
// SKU | Week 1 | Week 2 | ... and melts it into one row per SKU and week.
func ReadProductionMatrixFile(path string) ([]reconcile.Row, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx file %s: %w", path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("xlsx file %s has no sheets", path)
	}
	sheet := sheets[0]

	cells, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows from sheet %s: %w", sheet, err)
	}
	rows, err := MeltProductionMatrix(cells)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rows, nil
}

// MeltProductionMatrix turns a wide SKU-by-week grid into long rows with sku, week and
// produced columns. The header is the first row, among the leading rows, holding a "SKU"
// cell; rows above it (a sheet title) are ignored. Empty cells are gaps, not zero rows.
func MeltProductionMatrix(cells [][]string) ([]reconcile.Row, error) {
	headerIdx, skuCol := -1, -1
	for i := 0; i < len(cells) && i < headerSearchRows; i++ {
		for j, c := range cells[i] {
			if strings.EqualFold(strings.TrimSpace(c), "sku") {
				headerIdx, skuCol = i, j
				break
			}
		}
		if headerIdx >= 0 {
			break
		}
	}
	if headerIdx < 0 {
		return nil, fmt.Errorf("production matrix has no SKU header in its first %d rows", headerSearchRows)
	}

	header := cells[headerIdx]
	var rows []reconcile.Row
	for i := headerIdx + 1; i < len(cells); i++ {
		record := cells[i]
		if skuCol >= len(record) || strings.TrimSpace(record[skuCol]) == "" {
			continue
		}
		sku := strings.TrimSpace(record[skuCol])
		for j, label := range header {
			if j == skuCol || strings.TrimSpace(label) == "" || j >= len(record) {
				continue
			}
			if strings.TrimSpace(record[j]) == "" {
				continue
			}
			rows = append(rows, reconcile.Row{
				Line: i + 1,
				Data: map[string]interface{}{
					"sku":      sku,
					"week":     label,
					"produced": record[j],
				},
			})
		}
	}
	return rows, nil
}
