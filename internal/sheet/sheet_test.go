package sheet

import (
	"bytes"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/xuri/excelize/v2"

	"scanmark/internal/db"
)

func buildWorkbook(t *testing.T, header []interface{}, rows [][]interface{}) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetRow("Sheet1", "A1", &header); err != nil {
		t.Fatalf("header: %v", err)
	}
	for i := range rows {
		cellRef, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			t.Fatalf("cell ref: %v", err)
		}
		if err := f.SetSheetRow("Sheet1", cellRef, &rows[i]); err != nil {
			t.Fatalf("row %d: %v", i, err)
		}
	}
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	return &buf
}

func TestParseRoster(t *testing.T) {
	buf := buildWorkbook(t,
		[]interface{}{"UID", "Name", "Branch", "Year"},
		[][]interface{}{
			{"U1", "Ada Lovelace", "CS", "3"},
			{"U2", "Grace Hopper", "EE", "2"},
			{"", "", "", ""},
		})

	rows, err := ParseRoster(buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 raw rows, got %d", len(rows))
	}
	if rows[0].UID != "U1" || rows[0].Name != "Ada Lovelace" || rows[0].Branch != "CS" || rows[0].Year != "3" {
		t.Fatalf("unexpected first row %+v", rows[0])
	}
	if rows[1].UID != "U2" {
		t.Fatalf("unexpected second row %+v", rows[1])
	}
}

func TestParseRosterHeaderSynonyms(t *testing.T) {
	buf := buildWorkbook(t,
		[]interface{}{"Roll No", "Student Name", "Department", "Batch"},
		[][]interface{}{{"R7", "Alan Turing", "Math", "1"}})

	rows, err := ParseRoster(buf)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(rows) != 1 || rows[0].UID != "R7" || rows[0].Name != "Alan Turing" || rows[0].Branch != "Math" || rows[0].Year != "1" {
		t.Fatalf("unexpected rows %+v", rows)
	}
}

func TestParseRosterMissingRequiredColumns(t *testing.T) {
	buf := buildWorkbook(t,
		[]interface{}{"Identifier", "Full"},
		[][]interface{}{{"x", "y"}})
	if _, err := ParseRoster(buf); err == nil {
		t.Fatalf("expected header error")
	}
}

func TestParseRosterRejectsNonWorkbook(t *testing.T) {
	if _, err := ParseRoster(bytes.NewReader([]byte("uid,name\nU1,Ada\n"))); err == nil {
		t.Fatalf("expected error for non-xlsx input")
	}
}

func TestWriteAttendanceRoundTrip(t *testing.T) {
	marked := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	rows := []db.RosterStatusRow{
		{
			UID:      "U1",
			Name:     "Ada Lovelace",
			Branch:   "CS",
			Year:     "3",
			Status:   db.StatusPresent,
			MarkedAt: pgtype.Timestamptz{Time: marked, Valid: true},
			Source:   "Scanned",
			DeviceID: "gate-a",
		},
		{
			UID:    "U2",
			Name:   "Grace Hopper",
			Branch: "EE",
			Year:   "2",
			Status: db.StatusAbsent,
		},
	}

	var buf bytes.Buffer
	if err := WriteAttendance(&buf, rows); err != nil {
		t.Fatalf("write: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer f.Close()
	got, err := f.GetRows(exportSheet)
	if err != nil {
		t.Fatalf("rows: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(got))
	}
	if got[0][0] != "UID" || got[0][5] != "Time" || got[0][7] != "Device" {
		t.Fatalf("unexpected header %v", got[0])
	}
	if got[1][0] != "U1" || got[1][4] != "Present" || got[1][5] != "2026-03-14 09:30:00" || got[1][7] != "gate-a" {
		t.Fatalf("unexpected present row %v", got[1])
	}
	if got[2][0] != "U2" || got[2][4] != "Absent" {
		t.Fatalf("unexpected absent row %v", got[2])
	}
}
