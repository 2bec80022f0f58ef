// Package sheets wraps the Google Sheets API behind a narrow worksheet
// interface so the sync layer can be exercised against a fake.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"
)

// Worksheet is a single tab of a spreadsheet, addressed by 1-based rows.
type Worksheet interface {
	ReadAll(ctx context.Context) ([][]string, error)
	ReadRow(ctx context.Context, row int64) ([]string, error)
	UpdateRow(ctx context.Context, row int64, values []string) error
	AddRows(ctx context.Context, count int64) error
}

// ClientConfig describes a spreadsheet connection.
type ClientConfig struct {
	SpreadsheetID   string
	CredentialsPath string
}

// Client holds an authorized Sheets service and the sheet-id lookup for one
// spreadsheet.
type Client struct {
	service       *gsheets.Service
	spreadsheetID string
	sheetIDs      map[string]int64
}

var (
	errMissingSpreadsheet = errors.New("sheets: spreadsheet id is required")
	errMissingCredentials = errors.New("sheets: credentials path is required")
)

// NewClient authorizes against the Sheets API with a service-account key file
// and resolves the numeric sheet ids of every tab.
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.SpreadsheetID == "" {
		return nil, errMissingSpreadsheet
	}
	if cfg.CredentialsPath == "" {
		return nil, errMissingCredentials
	}

	key, err := os.ReadFile(cfg.CredentialsPath)
	if err != nil {
		return nil, fmt.Errorf("sheets: read credentials: %w", err)
	}
	jwtConfig, err := google.JWTConfigFromJSON(key, gsheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("sheets: parse credentials: %w", err)
	}

	service, err := gsheets.NewService(ctx, option.WithTokenSource(jwtConfig.TokenSource(ctx)))
	if err != nil {
		return nil, fmt.Errorf("sheets: create service: %w", err)
	}

	spreadsheet, err := service.Spreadsheets.Get(cfg.SpreadsheetID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("sheets: open spreadsheet: %w", err)
	}

	sheetIDs := make(map[string]int64, len(spreadsheet.Sheets))
	for _, sheet := range spreadsheet.Sheets {
		if sheet.Properties != nil {
			sheetIDs[sheet.Properties.Title] = sheet.Properties.SheetId
		}
	}

	return &Client{
		service:       service,
		spreadsheetID: cfg.SpreadsheetID,
		sheetIDs:      sheetIDs,
	}, nil
}

// Worksheet returns a handle to the named tab. lastColumn bounds row reads
// and writes, e.g. "E" for a five-column sheet.
func (c *Client) Worksheet(title, lastColumn string) (Worksheet, error) {
	sheetID, found := c.sheetIDs[title]
	if !found {
		return nil, fmt.Errorf("sheets: worksheet %q not found", title)
	}
	return &worksheet{
		client:     c,
		title:      title,
		sheetID:    sheetID,
		lastColumn: lastColumn,
	}, nil
}

type worksheet struct {
	client     *Client
	title      string
	sheetID    int64
	lastColumn string
}

func (w *worksheet) ReadAll(ctx context.Context) ([][]string, error) {
	resp, err := w.client.service.Spreadsheets.Values.
		Get(w.client.spreadsheetID, w.title).
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("sheets: read %s: %w", w.title, err)
	}
	rows := make([][]string, 0, len(resp.Values))
	for _, raw := range resp.Values {
		rows = append(rows, stringifyRow(raw))
	}
	return rows, nil
}

func (w *worksheet) ReadRow(ctx context.Context, row int64) ([]string, error) {
	resp, err := w.client.service.Spreadsheets.Values.
		Get(w.client.spreadsheetID, w.rowRange(row)).
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("sheets: read %s row %d: %w", w.title, row, err)
	}
	if len(resp.Values) == 0 {
		return nil, nil
	}
	return stringifyRow(resp.Values[0]), nil
}

func (w *worksheet) UpdateRow(ctx context.Context, row int64, values []string) error {
	cells := make([]interface{}, len(values))
	for i, value := range values {
		cells[i] = value
	}
	_, err := w.client.service.Spreadsheets.Values.
		Update(w.client.spreadsheetID, w.rowRange(row), &gsheets.ValueRange{
			Values: [][]interface{}{cells},
		}).
		ValueInputOption("RAW").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("sheets: update %s row %d: %w", w.title, row, err)
	}
	return nil
}

func (w *worksheet) AddRows(ctx context.Context, count int64) error {
	_, err := w.client.service.Spreadsheets.BatchUpdate(w.client.spreadsheetID,
		&gsheets.BatchUpdateSpreadsheetRequest{
			Requests: []*gsheets.Request{{
				AppendDimension: &gsheets.AppendDimensionRequest{
					SheetId:   w.sheetID,
					Dimension: "ROWS",
					Length:    count,
				},
			}},
		}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("sheets: grow %s by %d rows: %w", w.title, count, err)
	}
	return nil
}

func (w *worksheet) rowRange(row int64) string {
	return fmt.Sprintf("%s!A%d:%s%d", w.title, row, w.lastColumn, row)
}

func stringifyRow(raw []interface{}) []string {
	row := make([]string, len(raw))
	for i, cell := range raw {
		row[i] = fmt.Sprint(cell)
	}
	return row
}

// IsGridLimit reports whether an error means a write landed past the sheet's
// current bounds, so the caller should grow the sheet and retry once.
func IsGridLimit(err error) bool {
	return err != nil && strings.Contains(err.Error(), "exceeds grid limits")
}
