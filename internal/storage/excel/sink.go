package excel

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"soma-bot/internal/conversation"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

const sheetName = "Orders"

// Sink appends order rows to a local workbook. The file is created with a
// header row on first use and saved after every row.
type Sink struct {
	mu     sync.Mutex
	path   string
	logger *zap.Logger
}

func NewSink(path string, logger *zap.Logger) *Sink {
	return &Sink{path: path, logger: logger}
}

func (s *Sink) Append(ctx context.Context, rec conversation.OrderRecord) error {
	const operation = "excel.Append"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.open()
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	if err != nil {
		return fmt.Errorf("%s: failed to read sheet: %w", operation, err)
	}

	cell, err := excelize.CoordinatesToCellName(1, len(rows)+1)
	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	if err := f.SetSheetRow(sheetName, cell, rowValues(rec)); err != nil {
		return fmt.Errorf("%s: failed to write row: %w", operation, err)
	}

	if err := f.SaveAs(s.path); err != nil {
		return fmt.Errorf("%s: failed to save Excel file: %w", operation, err)
	}

	s.logger.Debug("Order row written to workbook",
		zap.String("order_id", rec.OrderID),
		zap.String("path", s.path),
		zap.Int("row", len(rows)+1))
	return nil
}

func (s *Sink) open() (*excelize.File, error) {
	f, err := excelize.OpenFile(s.path)
	if err == nil {
		if idx, _ := f.GetSheetIndex(sheetName); idx < 0 {
			_ = f.Close()
			return nil, fmt.Errorf("workbook %s has no %q sheet", s.path, sheetName)
		}
		return f, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create reports directory: %w", err)
	}

	f = excelize.NewFile()
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}

	header := make([]any, len(conversation.Columns))
	for i, col := range conversation.Columns {
		header[i] = col
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		_ = f.SetRowStyle(sheetName, 1, 1, style)
	}
	return f, nil
}

// rowValues keeps the unit price numeric so the workbook can sum it.
func rowValues(rec conversation.OrderRecord) *[]any {
	values := rec.Values()
	values[8] = rec.UnitPrice.InexactFloat64()
	return &values
}
