package enrollment

import (
	"bytes"
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// ExportRosterExcel renders a course's full roster as an xlsx workbook,
// inactive enrollments included so unenrollments stay visible.
func (s *Service) ExportRosterExcel(ctx context.Context, courseKey string) ([]byte, error) {
	roster, err := s.ListCourseRoster(ctx, courseKey)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	headers := []string{"username", "email", "full_name", "mode", "is_active", "enrolled_at"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for i, row := range roster {
		values := []any{
			row.Username,
			row.Email,
			row.FullName,
			row.Mode,
			row.IsActive,
			row.EnrolledAt.Format("2006-01-02 15:04:05"),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, i+2)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
	_ = f.SetColWidth(sheet, "A", "F", 22)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write roster excel: %w", err)
	}
	return buf.Bytes(), nil
}
