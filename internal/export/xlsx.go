package export

import (
	"fmt"
	"time"

	"commodity-tracker/internal/models"

	"github.com/xuri/excelize/v2"
)

var changeHeader = []string{
	"ID", "Batch", "Commodity", "Type", "Field",
	"Old Value", "New Value", "Version Time", "Recorded", "Summary",
}

// ChangeWorkbook renders change-log entries into an .xlsx workbook,
// newest first, for operator reports.
func ChangeWorkbook(entries []models.ChangeEntry) (*excelize.File, error) {
	f := excelize.NewFile()
	const sheet = "Changes"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}
	for i, h := range changeHeader {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return nil, err
		}
	}
	for row, e := range entries {
		values := []interface{}{
			e.ID, e.RequestID, e.CommodityID, e.ChangeType, e.FieldName,
			strOrEmpty(e.OldValue), strOrEmpty(e.NewValue),
			e.VersionTS.Format(time.RFC3339),
			e.CreatedAt.Format(time.RFC3339),
			e.Summary,
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return nil, fmt.Errorf("write cell %s: %w", cell, err)
			}
		}
	}
	return f, nil
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
