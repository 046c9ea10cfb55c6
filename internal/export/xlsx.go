// Package export renders attendance records as spreadsheet documents.
package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"geoattend/internal/attendance"
)

const (
	// SheetName is the worksheet holding the records.
	SheetName = "Attendance"
	// TimeLayout renders in/out times in the configured zone.
	TimeLayout = "2006-01-02 15:04:05"
	// ContentType is the MIME type of the workbook.
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	// FileName is the suggested download name.
	FileName = "attendance_records.xlsx"
)

// Headers returns the header row; time columns carry the zone abbreviation.
func Headers(loc *time.Location) []string {
	zone, _ := time.Now().In(loc).Zone()
	return []string{
		"Student Name",
		"Email",
		fmt.Sprintf("In Time (%s)", zone),
		fmt.Sprintf("Out Time (%s)", zone),
		"Topic",
		"Staff Name",
	}
}

// Row returns the cells for one record.
func Row(r attendance.RecordView, loc *time.Location) []string {
	out := ""
	if r.OutTime != nil {
		out = r.OutTime.In(loc).Format(TimeLayout)
	}
	return []string{
		r.StudentName,
		r.StudentEmail,
		r.InTime.In(loc).Format(TimeLayout),
		out,
		deref(r.Topic),
		deref(r.StaffName),
	}
}

// Workbook builds an xlsx file with a header row and one row per record.
func Workbook(records []attendance.RecordView, loc *time.Location) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("export: rename sheet: %w", err)
	}

	sw, err := f.NewStreamWriter(SheetName)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("export: stream writer: %w", err)
	}
	if err := sw.SetColWidth(1, 6, 22); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("export: column width: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("export: style: %w", err)
	}
	if err := writeRow(sw, 1, Headers(loc), bold); err != nil {
		_ = f.Close()
		return nil, err
	}
	for i, r := range records {
		if err := writeRow(sw, i+2, Row(r, loc), 0); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	if err := sw.Flush(); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("export: flush: %w", err)
	}
	return f, nil
}

// WriteXLSX renders records into w.
func WriteXLSX(w io.Writer, records []attendance.RecordView, loc *time.Location) error {
	f, err := Workbook(records, loc)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("export: write workbook: %w", err)
	}
	return nil
}

func writeRow(sw *excelize.StreamWriter, n int, cells []string, style int) error {
	cell, err := excelize.CoordinatesToCellName(1, n)
	if err != nil {
		return fmt.Errorf("export: cell name: %w", err)
	}
	values := make([]interface{}, len(cells))
	for i, c := range cells {
		if style != 0 {
			values[i] = excelize.Cell{StyleID: style, Value: c}
		} else {
			values[i] = c
		}
	}
	if err := sw.SetRow(cell, values); err != nil {
		return fmt.Errorf("export: row %d: %w", n, err)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
