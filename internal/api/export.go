package api

import (
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"

	"resilient/internal/models"

	"github.com/xuri/excelize/v2"
)

const exportSheet = "Queue"

var exportHeaders = []string{"ID", "Method", "Target", "Priority", "Created At", "Retries", "Body"}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ops := s.facade.QueuedOperations()
	f, err := buildQueueWorkbook(ops)
	if err != nil {
		s.logger.Error().Err(err).Msg("build queue export")
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	defer f.Close()

	filename := fmt.Sprintf("queue_%s.xlsx", time.Now().Format("20060102_150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if err := f.Write(w); err != nil {
		s.logger.Error().Err(err).Msg("write queue export")
	}
}

func buildQueueWorkbook(ops []models.QueuedOperation) (*excelize.File, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(exportSheet)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("delete default sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"4F81BD"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("header style: %w", err)
	}

	for col, title := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		if err := f.SetCellValue(exportSheet, cell, title); err != nil {
			return nil, fmt.Errorf("write header: %w", err)
		}
	}
	lastHeader, _ := excelize.CoordinatesToCellName(len(exportHeaders), 1)
	if err := f.SetCellStyle(exportSheet, "A1", lastHeader, headerStyle); err != nil {
		return nil, fmt.Errorf("apply header style: %w", err)
	}

	for i, op := range ops {
		row := i + 2
		values := []any{
			op.ID,
			string(op.Method),
			op.Target,
			string(op.Priority),
			op.CreatedAt.Format(time.RFC3339),
			op.Retries,
			cellText(string(op.Body)),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := f.SetCellValue(exportSheet, cell, v); err != nil {
				return nil, fmt.Errorf("write row %d: %w", row, err)
			}
		}
	}

	widths := map[string]float64{"A": 38, "B": 10, "C": 40, "D": 10, "E": 22, "F": 8, "G": 50}
	for col, width := range widths {
		if err := f.SetColWidth(exportSheet, col, col, width); err != nil {
			return nil, fmt.Errorf("set width: %w", err)
		}
	}
	return f, nil
}

// cellText cuts s to the excelize per-cell character limit.
func cellText(s string) string {
	if utf8.RuneCountInString(s) <= excelize.TotalCellChars {
		return s
	}
	r := []rune(s)
	return string(r[:excelize.TotalCellChars])
}
