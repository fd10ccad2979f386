package merge

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/username/ledgersync/backend/src/models"
	"github.com/username/ledgersync/backend/src/parsers"
)

const exportHeader = "Type,Product,Started Date,Completed Date,Description,Amount,Fee,Currency,State,Balance"

func row(t *testing.T, line string) models.ParsedRow {
	t.Helper()
	r, ok := parsers.ParseLine(line)
	require.True(t, ok, "line must parse: %s", line)
	return r
}

func dataLines(t *testing.T, content string) []string {
	t.Helper()
	require.True(t, strings.HasSuffix(content, "\n"), "merged content must end with a newline")
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	require.NotEmpty(t, lines)
	return lines[1:]
}

func TestMergeIntoEmptyStore(t *testing.T) {
	rows := []models.ParsedRow{
		row(t, "CARD_PAYMENT,Current,2024-01-05 10:21:33,,Groceries,-12.50,0.00,EUR,COMPLETED,1487.50"),
		row(t, "TOPUP,Current,2024-01-02 08:00:00,,Salary,1500.00,0.00,EUR,COMPLETED,1500.00"),
		row(t, "CARD_PAYMENT,Current,2024-01-03 19:40:00,,Dinner,-30.00,0.00,EUR,COMPLETED,1470.00"),
	}

	result, err := Merge(models.StoreSnapshot{}, exportHeader, rows)
	require.NoError(t, err)

	assert.Equal(t, 3, result.NewRowCount)
	assert.Equal(t, 3, result.TotalRowCount)
	assert.Empty(t, result.BaseVersionToken)
	assert.True(t, strings.HasPrefix(result.MergedContent, exportHeader+"\n"))

	lines := dataLines(t, result.MergedContent)
	require.Len(t, lines, 3)
	// Sorted ascending by started date.
	assert.Contains(t, lines[0], "2024-01-02")
	assert.Contains(t, lines[1], "2024-01-03")
	assert.Contains(t, lines[2], "2024-01-05")
}

func TestMergeDeduplicatesByFingerprint(t *testing.T) {
	existing := exportHeader + "\n" +
		"TOPUP,Current,2024-01-02 08:00:00,,Salary,1500.00,0.00,EUR,COMPLETED,1500.00\n" +
		"CARD_PAYMENT,Current,2024-01-03 19:40:00,,Dinner,-30.00,0.00,EUR,COMPLETED,1470.00\n" +
		"CARD_PAYMENT,Current,2024-01-05 10:21:33,,Groceries,-12.50,0.00,EUR,COMPLETED,1457.50\n"

	rows := []models.ParsedRow{
		// Duplicate of an existing row, despite differing balance.
		row(t, "CARD_PAYMENT,Current,2024-01-03 19:40:00,,Dinner,-30.00,0.00,EUR,COMPLETED,9999.99"),
		// Duplicate with formatting drift in the amount.
		row(t, "CARD_PAYMENT,Current,2024-01-05 10:21:33,,Groceries,-12.5,0.00,EUR,COMPLETED,1457.50"),
		row(t, "CARD_PAYMENT,Current,2024-01-07 12:00:00,,Pharmacy,-8.15,0.00,EUR,COMPLETED,1449.35"),
		row(t, "TOPUP,Current,2024-01-08 08:00:00,,Refund,20.00,0.00,EUR,COMPLETED,1469.35"),
	}

	result, err := Merge(models.StoreSnapshot{Content: existing, VersionToken: "v7", Found: true}, exportHeader, rows)
	require.NoError(t, err)

	assert.Equal(t, 2, result.NewRowCount)
	assert.Equal(t, 5, result.TotalRowCount)
	assert.Equal(t, "v7", result.BaseVersionToken)
}

func TestMergeIsIdempotent(t *testing.T) {
	rows := []models.ParsedRow{
		row(t, "TOPUP,Current,2024-01-02 08:00:00,,Salary,1500.00,0.00,EUR,COMPLETED,1500.00"),
		row(t, "CARD_PAYMENT,Current,2024-01-05 10:21:33,,Groceries,-12.50,0.00,EUR,COMPLETED,1487.50"),
	}

	first, err := Merge(models.StoreSnapshot{}, exportHeader, rows)
	require.NoError(t, err)
	require.Equal(t, 2, first.NewRowCount)

	second, err := Merge(models.StoreSnapshot{Content: first.MergedContent, VersionToken: "v1", Found: true}, exportHeader, rows)
	require.NoError(t, err)
	assert.Equal(t, 0, second.NewRowCount)
	assert.Equal(t, first.TotalRowCount, second.TotalRowCount)
	assert.Equal(t, first.MergedContent, second.MergedContent)
}

func TestMergeWithNoNewRowsStillProducesContent(t *testing.T) {
	existing := exportHeader + "\n" +
		"TOPUP,Current,2024-01-02 08:00:00,,Salary,1500.00,0.00,EUR,COMPLETED,1500.00\n"

	result, err := Merge(models.StoreSnapshot{Content: existing, VersionToken: "v3", Found: true}, exportHeader, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.NewRowCount)
	assert.Equal(t, 1, result.TotalRowCount)
	assert.Equal(t, existing, result.MergedContent)
}

func TestMergeKeepsStoredHeaderOverUploadHeader(t *testing.T) {
	storedHeader := exportHeader + ",Extra"
	existing := storedHeader + "\n" +
		"TOPUP,Current,2024-01-02 08:00:00,,Salary,1500.00,0.00,EUR,COMPLETED,1500.00\n"

	result, err := Merge(models.StoreSnapshot{Content: existing, VersionToken: "v1", Found: true}, exportHeader, nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.MergedContent, storedHeader+"\n"))
}

func TestMergeDeduplicatesWithinUpload(t *testing.T) {
	rows := []models.ParsedRow{
		row(t, "TOPUP,Current,2024-01-02 08:00:00,,Salary,1500.00,0.00,EUR,COMPLETED,1500.00"),
		row(t, "TOPUP,Current,2024-01-02 08:00:00,,Salary,1500.00,0.00,EUR,COMPLETED,1500.00"),
	}

	result, err := Merge(models.StoreSnapshot{}, exportHeader, rows)
	require.NoError(t, err)
	assert.Equal(t, 1, result.NewRowCount)
	assert.Equal(t, 1, result.TotalRowCount)
}

func TestMergeChronologicalInvariant(t *testing.T) {
	existing := exportHeader + "\n" +
		"CARD_PAYMENT,Current,2024-02-10 12:00:00,,Later,-5.00,0.00,EUR,COMPLETED,100.00\n" +
		"TOPUP,Current,2024-01-01 00:00:00,,Earlier,10.00,0.00,EUR,COMPLETED,110.00\n"

	rows := []models.ParsedRow{
		row(t, "CARD_PAYMENT,Current,2024-01-15 09:30:00,,Between,-2.00,0.00,EUR,COMPLETED,108.00"),
	}

	result, err := Merge(models.StoreSnapshot{Content: existing, VersionToken: "v1", Found: true}, exportHeader, rows)
	require.NoError(t, err)

	lines := dataLines(t, result.MergedContent)
	require.Len(t, lines, 3)
	var prev string
	for _, line := range lines {
		r, ok := parsers.ParseLine(line)
		require.True(t, ok)
		assert.GreaterOrEqual(t, r.StartedDate, prev, "data lines must be non-decreasing by started date")
		prev = r.StartedDate
	}
}

func TestMergeWithoutAnyHeaderFails(t *testing.T) {
	_, err := Merge(models.StoreSnapshot{}, "", nil)
	assert.ErrorIs(t, err, ErrNoHeader)
}
