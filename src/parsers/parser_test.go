package parsers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exportHeader = "Type,Product,Started Date,Completed Date,Description,Amount,Fee,Currency,State,Balance"

func TestSplitLineQuotedDelimiter(t *testing.T) {
	fields := SplitLine(`A,"B,C",D`)
	require.Len(t, fields, 3)
	assert.Equal(t, "A", fields[0])
	assert.Equal(t, "B,C", fields[1])
	assert.Equal(t, "D", fields[2])
}

func TestSplitLineTrimsWhitespace(t *testing.T) {
	fields := SplitLine(` A , B ,C `)
	assert.Equal(t, []string{"A", "B", "C"}, fields)
}

func TestSplitLineEmptyFields(t *testing.T) {
	fields := SplitLine("A,,C")
	assert.Equal(t, []string{"A", "", "C"}, fields)
}

func TestValidateHeader(t *testing.T) {
	assert.NoError(t, ValidateHeader(exportHeader))

	err := ValidateHeader("Type,Product,Completed Date,Description,Fee,Currency,State,Balance")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedHeader)
	assert.Contains(t, err.Error(), "Amount")
}

func TestValidateHeaderIsCaseInsensitive(t *testing.T) {
	assert.NoError(t, ValidateHeader("type,product,started date,completed date,description,amount,fee,currency,state,balance"))
}

func TestParseMalformedHeaderFails(t *testing.T) {
	_, err := Parse("Nope,Nothing,Here\nx,y,z\n")
	assert.ErrorIs(t, err, ErrMalformedHeader)
}

func TestParseEmptyInputFails(t *testing.T) {
	_, err := Parse("")
	assert.ErrorIs(t, err, ErrMalformedHeader)
}

func TestParseRows(t *testing.T) {
	raw := exportHeader + "\n" +
		"CARD_PAYMENT,Current,2024-01-05 10:21:33,2024-01-06 09:00:12,Grocery store,-12.50,0.00,EUR,COMPLETED,1487.50\n" +
		"TOPUP,Current,2024-01-02 08:00:00,2024-01-02 08:00:01,Salary,1500.00,0.00,EUR,COMPLETED,1500.00\n"

	parsed, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, exportHeader, parsed.Header)
	require.Len(t, parsed.Rows, 2)

	row := parsed.Rows[0]
	assert.Equal(t, "CARD_PAYMENT", row.Type)
	assert.Equal(t, "Current", row.Product)
	assert.Equal(t, "2024-01-05 10:21:33", row.StartedDate)
	assert.Equal(t, "2024-01-06 09:00:12", row.CompletedDate)
	assert.Equal(t, "Grocery store", row.Description)
	assert.Equal(t, "-12.50", row.AmountText)
	assert.Equal(t, "-12.5", row.Amount.String())
	assert.Equal(t, "EUR", row.Currency)
	assert.Equal(t, "COMPLETED", row.State)
	assert.True(t, row.HasBalance)
	assert.Equal(t, "1487.5", row.Balance.String())
	assert.Equal(t, "CARD_PAYMENT,Current,2024-01-05 10:21:33,2024-01-06 09:00:12,Grocery store,-12.50,0.00,EUR,COMPLETED,1487.50", row.RawLine)
}

func TestParseSkipsShortLines(t *testing.T) {
	raw := exportHeader + "\n" +
		"too,short,to,count\n" +
		"TOPUP,Current,2024-01-02 08:00:00,2024-01-02 08:00:01,Salary,1500.00,0.00,EUR,COMPLETED,1500.00\n"

	parsed, err := Parse(raw)
	require.NoError(t, err)
	require.Len(t, parsed.Rows, 1)
	assert.Equal(t, "TOPUP", parsed.Rows[0].Type)
}

func TestParseSkipsRowsWithInvalidAmount(t *testing.T) {
	raw := exportHeader + "\n" +
		"CARD_PAYMENT,Current,2024-01-05 10:21:33,,Coffee,not-a-number,0.00,EUR,COMPLETED,\n"

	parsed, err := Parse(raw)
	require.NoError(t, err)
	assert.Empty(t, parsed.Rows)
}

func TestParseQuotedDescriptionWithComma(t *testing.T) {
	raw := exportHeader + "\n" +
		`CARD_PAYMENT,Current,2024-01-05 10:21:33,,"Cafe, Lisboa",-3.20,0.00,EUR,COMPLETED,100.00` + "\n"

	parsed, err := Parse(raw)
	require.NoError(t, err)
	require.Len(t, parsed.Rows, 1)
	assert.Equal(t, "Cafe, Lisboa", parsed.Rows[0].Description)
}

func TestParseHandlesCRLFAndBlankLines(t *testing.T) {
	raw := exportHeader + "\r\n" +
		"TOPUP,Current,2024-01-02 08:00:00,,Salary,1500.00,0.00,EUR,COMPLETED,1500.00\r\n" +
		"\r\n"

	parsed, err := Parse(raw)
	require.NoError(t, err)
	require.Len(t, parsed.Rows, 1)
}

func TestParseLineMissingBalanceIsOptional(t *testing.T) {
	row, ok := ParseLine("TOPUP,Current,2024-01-02 08:00:00,,Salary,1500.00,0.00,EUR,COMPLETED,")
	require.True(t, ok)
	assert.False(t, row.HasBalance)
}

func TestParseLineInvalidFeeDefaultsToZero(t *testing.T) {
	row, ok := ParseLine("TOPUP,Current,2024-01-02 08:00:00,,Salary,1500.00,n/a,EUR,COMPLETED,1500.00")
	require.True(t, ok)
	assert.True(t, row.Fee.IsZero())
}
