// backend/src/merge/merge.go
package merge

import (
	"errors"
	"sort"
	"strings"

	"github.com/username/ledgersync/backend/src/fingerprint"
	"github.com/username/ledgersync/backend/src/models"
	"github.com/username/ledgersync/backend/src/parsers"
)

// ErrNoHeader signals a merge attempted with neither stored content nor an
// upload header to synthesize from. This is a programming error upstream,
// not an environmental condition, and is never retried.
var ErrNoHeader = errors.New("merge: no header available")

// Merge combines the stored dataset with newly uploaded rows. Rows whose
// fingerprint already exists in the store (or earlier in the same upload)
// are dropped as duplicates. The result is sorted ascending by started date
// using plain string comparison: dataset dates are a fixed-width, zero-padded
// format, so lexicographic order is chronological order. That is a format
// assumption of this dataset, not a general date comparator.
//
// When the store was empty, uploadHeader becomes the canonical header. When
// every new row is a duplicate the merge still succeeds with NewRowCount = 0;
// the pipeline commits the content-identical result rather than special-casing
// "nothing changed".
func Merge(snapshot models.StoreSnapshot, uploadHeader string, newRows []models.ParsedRow) (models.MergeResult, error) {
	header, existing := splitContent(snapshot.Content)
	if header == "" {
		header = strings.TrimSpace(uploadHeader)
	}
	if header == "" {
		return models.MergeResult{}, ErrNoHeader
	}

	seen := make(map[string]struct{}, len(existing))
	for _, line := range existing {
		if fp, ok := fingerprint.ForLine(line); ok {
			seen[fp] = struct{}{}
		}
	}

	combined := append([]string(nil), existing...)
	newCount := 0
	for _, row := range newRows {
		fp := fingerprint.ForRow(row)
		if _, dup := seen[fp]; dup {
			continue
		}
		seen[fp] = struct{}{}
		combined = append(combined, row.RawLine)
		newCount++
	}

	sort.SliceStable(combined, func(i, j int) bool {
		return startedDateOf(combined[i]) < startedDateOf(combined[j])
	})

	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n")
	for _, line := range combined {
		b.WriteString(line)
		b.WriteString("\n")
	}

	return models.MergeResult{
		MergedContent:    b.String(),
		NewRowCount:      newCount,
		TotalRowCount:    len(combined),
		BaseVersionToken: snapshot.VersionToken,
	}, nil
}

// splitContent separates stored content into its header line and data lines,
// dropping blank lines.
func splitContent(content string) (string, []string) {
	if strings.TrimSpace(content) == "" {
		return "", nil
	}
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	header := strings.TrimSpace(lines[0])
	var data []string
	for _, line := range lines[1:] {
		line = strings.TrimSpace(line)
		if line != "" {
			data = append(data, line)
		}
	}
	return header, data
}

func startedDateOf(line string) string {
	row, ok := parsers.ParseLine(line)
	if !ok {
		return ""
	}
	return row.StartedDate
}
