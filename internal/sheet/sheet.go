// Package sheet adapts rosters and attendance views to spreadsheet files.
package sheet

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"scanmark/internal/attend"
	"scanmark/internal/db"
)

const exportSheet = "Attendance"

var exportHeader = []interface{}{"UID", "Name", "Branch", "Year", "Status", "Time", "Source", "Device"}

// ParseRoster reads roster rows from the first sheet of an xlsx document.
// The first row is the header; uid and name columns are required, branch
// and year are optional. Header matching is case-insensitive and tolerates
// a few common synonyms.
func ParseRoster(r io.Reader) ([]attend.ImportRow, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet %q is empty", sheets[0])
	}

	cols, err := mapHeader(rows[0])
	if err != nil {
		return nil, err
	}
	out := make([]attend.ImportRow, 0, len(rows)-1)
	for _, row := range rows[1:] {
		out = append(out, attend.ImportRow{
			UID:    cell(row, cols.uid),
			Name:   cell(row, cols.name),
			Branch: cell(row, cols.branch),
			Year:   cell(row, cols.year),
		})
	}
	return out, nil
}

type headerMap struct {
	uid    int
	name   int
	branch int
	year   int
}

func mapHeader(header []string) (headerMap, error) {
	cols := headerMap{uid: -1, name: -1, branch: -1, year: -1}
	for i, raw := range header {
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "uid", "id", "student id", "roll no":
			if cols.uid < 0 {
				cols.uid = i
			}
		case "name", "student name":
			if cols.name < 0 {
				cols.name = i
			}
		case "branch", "department", "dept":
			if cols.branch < 0 {
				cols.branch = i
			}
		case "year", "batch":
			if cols.year < 0 {
				cols.year = i
			}
		}
	}
	if cols.uid < 0 || cols.name < 0 {
		return cols, fmt.Errorf("header must contain uid and name columns")
	}
	return cols, nil
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

// WriteAttendance renders the roster-against-session view as an xlsx
// document, one row per roster entry in the order given.
func WriteAttendance(w io.Writer, rows []db.RosterStatusRow) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetSheetRow(exportSheet, "A1", &exportHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, row := range rows {
		markedAt := ""
		if row.MarkedAt.Valid {
			markedAt = row.MarkedAt.Time.UTC().Format("2006-01-02 15:04:05")
		}
		values := []interface{}{
			row.UID,
			row.Name,
			row.Branch,
			row.Year,
			string(row.Status),
			markedAt,
			row.Source,
			row.DeviceID,
		}
		cellRef, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("cell ref: %w", err)
		}
		if err := f.SetSheetRow(exportSheet, cellRef, &values); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
