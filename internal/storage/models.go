package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TimestampLayout is the persisted timestamp format, local wall clock.
const TimestampLayout = "2006-01-02 15:04:05"

// UnavailableMarker stands in for a secondary balance that could not be converted.
const UnavailableMarker = "unavailable"

// Header is the first row of tabular ledgers.
var Header = []string{"timestamp", "balance_primary", "balance_secondary", "change_pct"}

// Sample is one immutable ledger row.
type Sample struct {
	Timestamp time.Time
	Primary   decimal.Decimal
	// Secondary is invalid when the conversion rate was unavailable.
	Secondary decimal.NullDecimal
	// ChangePct is invalid when the 24h reference balance was zero.
	ChangePct decimal.NullDecimal
}

// EncodeRow renders a sample in the tabular ledger layout.
func EncodeRow(s Sample) []string {
	secondary := UnavailableMarker
	if s.Secondary.Valid {
		secondary = s.Secondary.Decimal.String()
	}
	change := ""
	if s.ChangePct.Valid {
		change = s.ChangePct.Decimal.String()
	}
	return []string{
		s.Timestamp.In(time.Local).Format(TimestampLayout),
		s.Primary.String(),
		secondary,
		change,
	}
}

// DecodeRow parses a tabular ledger row. Missing trailing cells are treated as empty.
func DecodeRow(row []string) (Sample, error) {
	cell := func(i int) string {
		if i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	ts, err := time.ParseInLocation(TimestampLayout, cell(0), time.Local)
	if err != nil {
		return Sample{}, fmt.Errorf("parse timestamp %q: %w", cell(0), err)
	}
	primary, err := decimal.NewFromString(cell(1))
	if err != nil {
		return Sample{}, fmt.Errorf("parse balance_primary %q: %w", cell(1), err)
	}

	sample := Sample{Timestamp: ts, Primary: primary}
	if v := cell(2); v != "" && !strings.EqualFold(v, UnavailableMarker) {
		// Foreign markers written by other tools count as unavailable.
		if secondary, err := decimal.NewFromString(v); err == nil {
			sample.Secondary = decimal.NewNullDecimal(secondary)
		}
	}
	if v := cell(3); v != "" {
		change, err := decimal.NewFromString(v)
		if err != nil {
			return Sample{}, fmt.Errorf("parse change_pct %q: %w", v, err)
		}
		sample.ChangePct = decimal.NewNullDecimal(change)
	}
	return sample, nil
}

// decodeRows skips the header row and parses the rest.
func decodeRows(rows [][]string) ([]Sample, error) {
	samples := make([]Sample, 0, len(rows))
	for i, row := range rows {
		if i == 0 {
			continue
		}
		if isBlank(row) {
			continue
		}
		sample, err := DecodeRow(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
