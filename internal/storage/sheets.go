package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"balance-tracker/internal/config"
)

// SheetsStore keeps the ledger in a Google spreadsheet tab.
type SheetsStore struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheet         string
}

// NewSheetsStore authenticates with service-account credentials and makes sure
// the tab starts with the header row.
func NewSheetsStore(ctx context.Context, cfg config.SheetsConfig, opts ...goption.ClientOption) (*SheetsStore, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}

	if len(opts) == 0 {
		creds, err := credentialOption(cfg)
		if err != nil {
			return nil, err
		}
		opts = []goption.ClientOption{creds, goption.WithScopes(gsheet.SpreadsheetsScope)}
	}

	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	sheet := cfg.SheetName
	if sheet == "" {
		sheet = "Balance"
	}
	store := &SheetsStore{svc: svc, spreadsheetID: cfg.SpreadsheetID, sheet: sheet}
	if err := store.ensureHeader(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func credentialOption(cfg config.SheetsConfig) (goption.ClientOption, error) {
	switch {
	case strings.TrimSpace(cfg.CredentialsJSON) != "":
		return goption.WithCredentialsJSON([]byte(cfg.CredentialsJSON)), nil
	case strings.TrimSpace(cfg.CredentialsFile) != "":
		return goption.WithCredentialsFile(cfg.CredentialsFile), nil
	default:
		return nil, errors.New("missing service account credentials (set storage.sheets.credentials_json or storage.sheets.credentials_file)")
	}
}

func (s *SheetsStore) ensureHeader(ctx context.Context) error {
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, s.sheet+"!A1:D1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	if len(resp.Values) > 0 && len(resp.Values[0]) > 0 {
		return nil
	}
	return s.appendRow(ctx, Header)
}

// Append adds one row; the call returns once the API acknowledged the write.
func (s *SheetsStore) Append(ctx context.Context, sample Sample) error {
	if err := s.appendRow(ctx, EncodeRow(sample)); err != nil {
		return fmt.Errorf("append sample: %w", err)
	}
	return nil
}

func (s *SheetsStore) appendRow(ctx context.Context, row []string) error {
	values := make([]interface{}, len(row))
	for i, cell := range row {
		values[i] = cell
	}
	vr := &gsheet.ValueRange{Values: [][]interface{}{values}}
	_, err := s.svc.Spreadsheets.Values.Append(s.spreadsheetID, s.sheet+"!A:D", vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	return err
}

// All reads the whole tab and skips the header row.
func (s *SheetsStore) All(ctx context.Context) ([]Sample, error) {
	resp, err := s.svc.Spreadsheets.Values.Get(s.spreadsheetID, s.sheet+"!A:D").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read sheet: %w", err)
	}
	return decodeRows(toStrings(resp.Values))
}

func (s *SheetsStore) Close() error { return nil }

func toStrings(values [][]interface{}) [][]string {
	rows := make([][]string, 0, len(values))
	for _, row := range values {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = fmt.Sprint(v)
		}
		rows = append(rows, cells)
	}
	return rows
}

var _ SampleStore = (*SheetsStore)(nil)
