package metadata

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const sheetName = "metadata"

// WriteXLSX writes records as a single-sheet workbook without sequences.
func WriteXLSX(w io.Writer, records []Record) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return err
	}

	header := make([]interface{}, len(ExportColumns))
	for i, c := range ExportColumns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return err
	}

	for i, r := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []interface{}{r.Name, r.Length, r.Date, r.Country, r.IsolationSource, r.Host, r.Desc}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return fmt.Errorf("row %s: %w", r.Name, err)
		}
	}

	return f.Write(w)
}
