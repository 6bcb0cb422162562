package services

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/carelink/care-server/internal/database"
	"github.com/carelink/care-server/internal/models"
	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

const exportSheet = "Care Logs"

var exportHeaders = []string{"Date", "Performed items", "Memo", "Signed", "Last updated"}

// ExportService produces spreadsheet exports of a case's care logs.
type ExportService struct {
	store  database.Store
	logger *zap.SugaredLogger
}

func NewExportService(store database.Store, logger *zap.SugaredLogger) *ExportService {
	return &ExportService{store: store, logger: logger}
}

// ExportCareLogs returns an XLSX workbook of the active logs and a file name for it.
func (s *ExportService) ExportCareLogs(ctx context.Context, actor models.Actor, caseID uuid.UUID) ([]byte, string, error) {
	c, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, "", storeErr("get case", err)
	}
	if err := authorizeOwner(c, actor); err != nil {
		return nil, "", err
	}
	logs, err := s.store.ListCareLogs(ctx, caseID, true)
	if err != nil {
		return nil, "", storeErr("list care logs", err)
	}

	data, err := buildCareLogWorkbook(c, logs)
	if err != nil {
		return nil, "", &DependencyError{Op: "build workbook", Err: err}
	}

	name := fmt.Sprintf("care-logs-%s-%s.xlsx", models.FormatDate(c.StartDate), models.FormatDate(c.EffectiveEnd()))
	s.logger.Infow("Care logs exported", "case_id", caseID, "rows", len(logs), "actor", actor.ID)
	return data, name, nil
}

func buildCareLogWorkbook(c *models.Case, logs []models.CareLog) ([]byte, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(exportSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		f.Close()
		return nil, fmt.Errorf("delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create header style: %w", err)
	}

	if err := setCellValue(f, 1, 1, "Patient"); err != nil {
		f.Close()
		return nil, err
	}
	if err := setCellValue(f, 2, 1, c.PatientName); err != nil {
		f.Close()
		return nil, err
	}

	const headerRow = 3
	for col, header := range exportHeaders {
		cell, err := excelize.CoordinatesToCellName(col+1, headerRow)
		if err != nil {
			f.Close()
			return nil, err
		}
		if err := f.SetCellValue(exportSheet, cell, header); err != nil {
			f.Close()
			return nil, err
		}
		if err := f.SetCellStyle(exportSheet, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, err
		}
	}

	for i, l := range logs {
		row := headerRow + 1 + i
		signed := "no"
		if l.Signed() {
			signed = "yes"
		}
		values := []any{
			models.FormatDate(l.Date),
			strings.Join(l.Items, ", "),
			l.Memo,
			signed,
			l.UpdatedAt.UTC().Format("2006-01-02 15:04"),
		}
		for col, v := range values {
			if err := setCellValue(f, col+1, row, v); err != nil {
				f.Close()
				return nil, fmt.Errorf("set cell at row %d, col %d: %w", row, col+1, err)
			}
		}
	}

	if err := f.SetColWidth(exportSheet, "A", "A", 12); err != nil {
		f.Close()
		return nil, err
	}
	if err := f.SetColWidth(exportSheet, "B", "C", 40); err != nil {
		f.Close()
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func setCellValue(f *excelize.File, col, row int, value any) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return f.SetCellValue(exportSheet, cell, value)
}
