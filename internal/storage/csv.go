package storage

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// CSVStore keeps the ledger in a local CSV file with a header row.
type CSVStore struct {
	path string
}

// NewCSVStore opens or creates the ledger file, writing the header when the file is new.
func NewCSVStore(path string) (*CSVStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
	}

	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist) || (err == nil && info.Size() == 0):
		if err := writeRecords(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, Header); err != nil {
			return nil, fmt.Errorf("initialise ledger: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("stat ledger: %w", err)
	}

	return &CSVStore{path: path}, nil
}

// Append writes one row and fsyncs the file.
func (s *CSVStore) Append(ctx context.Context, sample Sample) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := writeRecords(s.path, os.O_APPEND|os.O_WRONLY, EncodeRow(sample)); err != nil {
		return fmt.Errorf("append sample: %w", err)
	}
	return nil
}

// All reads every row after the header.
func (s *CSVStore) All(ctx context.Context) ([]Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	var rows [][]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read ledger: %w", err)
		}
		rows = append(rows, record)
	}
	return decodeRows(rows)
}

// Close is a no-op; the file is opened per call.
func (s *CSVStore) Close() error {
	return nil
}

func writeRecords(path string, flag int, records ...[]string) error {
	file, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return err
	}

	writer := csv.NewWriter(file)
	if err := writer.WriteAll(records); err != nil {
		file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

var _ SampleStore = (*CSVStore)(nil)
