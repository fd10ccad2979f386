// backend/src/parsers/parser.go
package parsers

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/username/ledgersync/backend/src/models"
)

// Column layout of a transaction export row.
const (
	colType = iota
	colProduct
	colStartedDate
	colCompletedDate
	colDescription
	colAmount
	colFee
	colCurrency
	colState
	colBalance

	// MinFieldsPerRow is the minimum number of fields a data line must
	// produce to be accepted. Shorter lines are skipped, not fatal: a
	// partially ingestible export is preferred over rejecting the batch.
	MinFieldsPerRow = 10
)

// requiredHeaderMarkers are the column-name substrings the header line must
// contain. A header missing any of them is malformed input, which is never
// worth retrying.
var requiredHeaderMarkers = []string{"Type", "Amount", "Started Date"}

// ErrMalformedHeader signals an export whose header line is missing a
// required column marker.
var ErrMalformedHeader = errors.New("malformed export header")

// ParseResult holds the upload's own header line plus its well-formed rows.
// The header is kept because it becomes canonical when the remote store is
// still empty.
type ParseResult struct {
	Header string             `json:"header"`
	Rows   []models.ParsedRow `json:"rows"`
}

// SplitLine splits one delimited line into trimmed fields. A double quote
// toggles quoted mode; while quoted, the delimiter is literal. Quote
// characters themselves are not part of the field value.
func SplitLine(line string) []string {
	var fields []string
	var b strings.Builder
	inQuotes := false
	for _, r := range line {
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case r == ',' && !inQuotes:
			fields = append(fields, strings.TrimSpace(b.String()))
			b.Reset()
		default:
			b.WriteRune(r)
		}
	}
	fields = append(fields, strings.TrimSpace(b.String()))
	return fields
}

// ValidateHeader checks that the header line carries every required column
// marker. The check is a substring match so that exports with extra or
// re-ordered columns still pass as long as the defining columns exist.
func ValidateHeader(header string) error {
	for _, marker := range requiredHeaderMarkers {
		if !strings.Contains(strings.ToLower(header), strings.ToLower(marker)) {
			return fmt.Errorf("%w: missing column %q", ErrMalformedHeader, marker)
		}
	}
	return nil
}

// Parse turns a raw export into its header and structured rows. Lines with
// fewer than MinFieldsPerRow fields and rows with an unparseable amount are
// skipped silently. A malformed header fails the whole parse with
// ErrMalformedHeader.
func Parse(rawText string) (*ParseResult, error) {
	lines := strings.Split(strings.ReplaceAll(rawText, "\r\n", "\n"), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return nil, fmt.Errorf("%w: export is empty", ErrMalformedHeader)
	}
	header := strings.TrimSpace(lines[0])
	if err := ValidateHeader(header); err != nil {
		return nil, err
	}

	var rows []models.ParsedRow
	for _, line := range lines[1:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		row, ok := ParseLine(line)
		if !ok {
			log.Printf("parser: skipping malformed line: %.60s", line)
			continue
		}
		rows = append(rows, row)
	}
	return &ParseResult{Header: header, Rows: rows}, nil
}

// ParseLine parses a single data line into a ParsedRow. It reports ok=false
// for lines with too few fields or an unparseable amount; callers decide
// whether that means skip (uploads) or exclude from dedup (stored lines).
func ParseLine(line string) (models.ParsedRow, bool) {
	fields := SplitLine(line)
	if len(fields) < MinFieldsPerRow {
		return models.ParsedRow{}, false
	}

	amountText := fields[colAmount]
	amount, err := decimal.NewFromString(amountText)
	if err != nil {
		return models.ParsedRow{}, false
	}

	fee, err := decimal.NewFromString(fields[colFee])
	if err != nil {
		fee = decimal.Zero
	}

	row := models.ParsedRow{
		Type:          fields[colType],
		Product:       fields[colProduct],
		StartedDate:   fields[colStartedDate],
		CompletedDate: fields[colCompletedDate],
		Description:   fields[colDescription],
		Amount:        amount,
		AmountText:    amountText,
		Fee:           fee,
		Currency:      fields[colCurrency],
		State:         fields[colState],
		RawLine:       line,
	}
	if fields[colBalance] != "" {
		if bal, err := decimal.NewFromString(fields[colBalance]); err == nil {
			row.Balance = bal
			row.HasBalance = true
		}
	}
	return row, true
}
