// backend/src/fingerprint/fingerprint.go
package fingerprint

import (
	"strings"

	"github.com/username/ledgersync/backend/src/models"
	"github.com/username/ledgersync/backend/src/parsers"
)

const separator = "|"

// ForRow derives the identity string of a row from its defining fields:
// type, started date, description and amount. Two rows sharing these four
// values are the same transaction, regardless of fee, balance or currency.
// That identity is deliberately lossy; see merge for the dedup contract.
//
// The amount component is the decimal's canonical re-serialization rather
// than the raw source text, so independent parses of the same value (for
// example "100.50" stored once and uploaded again) can never drift apart on
// formatting alone.
func ForRow(row models.ParsedRow) string {
	return strings.Join([]string{
		row.Type,
		row.StartedDate,
		row.Description,
		row.Amount.String(),
	}, separator)
}

// ForLine fingerprints a raw stored data line. It reports ok=false for lines
// that do not parse as a transaction row; such lines carry no identity and
// never match an uploaded row.
func ForLine(line string) (string, bool) {
	row, ok := parsers.ParseLine(line)
	if !ok {
		return "", false
	}
	return ForRow(row), true
}
