package sheets

import (
	"context"
	"errors"
	"fmt"

	"soma-bot/internal/config"
	"soma-bot/internal/conversation"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const valueInputOption = "USER_ENTERED"

var ErrNoCredentials = errors.New("no google credentials configured")

// Sink appends order rows to a Google Sheets worksheet.
type Sink struct {
	values        *sheets.SpreadsheetsValuesService
	spreadsheetID string
	appendRange   string
	logger        *zap.Logger
}

// NewSink authenticates with the inline service account JSON when it is set,
// otherwise with the key file.
func NewSink(ctx context.Context, cfg config.SheetsConfig, logger *zap.Logger) (*Sink, error) {
	const operation = "sheets.NewSink"

	var creds option.ClientOption
	switch {
	case cfg.ServiceAccountJSON != "":
		logger.Info("Using Google credentials from environment")
		creds = option.WithCredentialsJSON([]byte(cfg.ServiceAccountJSON))
	case cfg.KeyFile != "":
		logger.Info("Using Google credentials from key file", zap.String("key_file", cfg.KeyFile))
		creds = option.WithCredentialsFile(cfg.KeyFile)
	default:
		return nil, fmt.Errorf("%s: %w", operation, ErrNoCredentials)
	}

	sink, err := NewSinkWithOptions(ctx, cfg.SheetID, cfg.Worksheet, logger,
		creds, option.WithScopes(sheets.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", operation, err)
	}
	return sink, nil
}

func NewSinkWithOptions(ctx context.Context, spreadsheetID, worksheet string, logger *zap.Logger, opts ...option.ClientOption) (*Sink, error) {
	srv, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	return &Sink{
		values:        srv.Spreadsheets.Values,
		spreadsheetID: spreadsheetID,
		appendRange:   worksheet + "!A1",
		logger:        logger,
	}, nil
}

func (s *Sink) Append(ctx context.Context, rec conversation.OrderRecord) error {
	const operation = "sheets.Append"

	row := &sheets.ValueRange{Values: [][]interface{}{rowValues(rec)}}

	resp, err := s.values.Append(s.spreadsheetID, s.appendRange, row).
		ValueInputOption(valueInputOption).
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("%s: order %s: %w", operation, rec.OrderID, err)
	}

	if resp.Updates != nil {
		s.logger.Debug("Order row appended to sheet",
			zap.String("order_id", rec.OrderID),
			zap.String("range", resp.Updates.UpdatedRange))
	}
	return nil
}

// rowValues quotes free-text cells so USER_ENTERED parsing keeps them as
// typed text instead of evaluating formulas or converting them to numbers.
// The timestamp and numeric cells stay parseable.
func rowValues(rec conversation.OrderRecord) []any {
	return []any{
		asText(rec.OrderID),
		rec.TimestampUTC(),
		asText(rec.RequesterHandle),
		asText(rec.CustomerName),
		asText(rec.Phone),
		string(rec.DeliveryMethod),
		asText(rec.DeliveryAddress),
		asText(rec.ProductName),
		rec.UnitPrice.String(),
		rec.Quantity,
		rec.Status,
	}
}

func asText(s string) string {
	if s == "" {
		return s
	}
	return "'" + s
}
