package parser

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/dvloznov/cashflow-ledger/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForFilename(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		want    string
		wantErr bool
	}{
		{"csv", "feb.csv", "csv", false},
		{"uppercase csv", "FEB.CSV", "csv", false},
		{"ofx", "statement.ofx", "ofx", false},
		{"qfx", "statement.QFX", "ofx", false},
		{"pdf", "statement.pdf", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ForFilename(tt.file, "GBP")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Name())
		})
	}
}

func TestCSVParser_Parse(t *testing.T) {
	content := "Date,Payee,Memo,Category,Amount,Transaction_ID\n" +
		"2024-02-01,Tesco,weekly shop,GROC,-40.10,T1\n" +
		"02/02/2024,Employer,,SALARY,\"2,000.00\",\n" +
		"\n" +
		"not a date,Broken,,GROC,1.00,\n" +
		"2024-02-03,Cafe,,COFFEE,(3.50),\n"

	p := &CSVParser{DefaultCurrency: "GBP"}
	res, err := p.Parse(context.Background(), strings.NewReader(content))
	require.NoError(t, err)

	assert.Equal(t, 4, res.TotalRows)
	require.Len(t, res.Rows, 3)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 3, res.Errors[0].RowNumber)
	assert.Contains(t, res.Errors[0].Message, "invalid date")

	tesco := res.Rows[0]
	assert.Equal(t, 1, tesco.RowNumber)
	assert.Equal(t, "T1", tesco.SourceTransactionID)
	assert.Equal(t, "Tesco", tesco.Name)
	assert.Equal(t, "weekly shop", tesco.Description)
	assert.Equal(t, "GROC", tesco.CategoryLabel)
	assert.True(t, tesco.Amount.Equal(decimal.RequireFromString("40.10")))
	assert.Equal(t, domain.Outflow, tesco.Direction)
	assert.Equal(t, "GBP", tesco.Currency)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), tesco.PaidAt)

	salary := res.Rows[1]
	assert.Equal(t, domain.Inflow, salary.Direction)
	assert.True(t, salary.Amount.Equal(decimal.NewFromInt(2000)))
	assert.Equal(t, time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC), salary.PaidAt)

	cafe := res.Rows[2]
	assert.Equal(t, domain.Outflow, cafe.Direction)
	assert.True(t, cafe.Amount.Equal(decimal.RequireFromString("3.5")))
}

func TestCSVParser_DirectionColumn(t *testing.T) {
	content := "paid_at,name,amount,currency,direction,category\n" +
		"2024-02-01,Refund,12.00,eur,credit,REFUND\n" +
		"2024-02-01,Odd,12.00,EUR,sideways,REFUND\n"

	res, err := (&CSVParser{DefaultCurrency: "GBP"}).Parse(context.Background(), strings.NewReader(content))
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, domain.Inflow, res.Rows[0].Direction)
	assert.Equal(t, "eur", res.Rows[0].Currency)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 2, res.Errors[0].RowNumber)
}

func TestCSVParser_BadHeader(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty", ""},
		{"no amount", "date,name\n2024-02-01,Tesco\n"},
		{"no name", "date,amount\n2024-02-01,1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := (&CSVParser{}).Parse(context.Background(), strings.NewReader(tt.content))
			assert.Error(t, err)
		})
	}
}

const sampleOFX = `OFXHEADER:100
DATA:OFXSGML
VERSION:102
SECURITY:NONE
ENCODING:USASCII
CHARSET:1252
COMPRESSION:NONE
OLDFILEUID:NONE
NEWFILEUID:NONE

<OFX>
<SIGNONMSGSRSV1>
<SONRS>
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<DTSERVER>20240301120000
<LANGUAGE>ENG
<FI>
<ORG>TESTBANK
<FID>12345
</FI>
</SONRS>
</SIGNONMSGSRSV1>
<BANKMSGSRSV1>
<STMTTRNRS>
<TRNUID>1
<STATUS>
<CODE>0
<SEVERITY>INFO
</STATUS>
<STMTRS>
<CURDEF>GBP
<BANKACCTFROM>
<BANKID>123456789
<ACCTID>9876543210
<ACCTTYPE>CHECKING
</BANKACCTFROM>
<BANKTRANLIST>
<DTSTART>20240201000000
<DTEND>20240229235959
<STMTTRN>
<TRNTYPE>POS
<DTPOSTED>20240205120000
<TRNAMT>-50.00
<FITID>TXN001
<NAME>Coffee Shop
<MEMO>Card 1234
</STMTTRN>
<STMTTRN>
<TRNTYPE>CREDIT
<DTPOSTED>20240215120000
<TRNAMT>1000.00
<FITID>TXN002
<NAME>Paycheck
</STMTTRN>
</BANKTRANLIST>
<LEDGERBAL>
<BALAMT>2000.00
<DTASOF>20240229235959
</LEDGERBAL>
</STMTRS>
</STMTTRNRS>
</BANKMSGSRSV1>
</OFX>`

func TestOFXParser_Parse(t *testing.T) {
	res, err := (&OFXParser{DefaultCurrency: "USD"}).Parse(context.Background(), strings.NewReader(sampleOFX))
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalRows)
	assert.Empty(t, res.Errors)
	require.Len(t, res.Rows, 2)

	coffee := res.Rows[0]
	assert.Equal(t, "TXN001", coffee.SourceTransactionID)
	assert.Equal(t, "Coffee Shop", coffee.Name)
	assert.Equal(t, "Card 1234", coffee.Description)
	assert.Equal(t, "POS", coffee.CategoryLabel)
	assert.Equal(t, "GBP", coffee.Currency)
	assert.Equal(t, domain.Outflow, coffee.Direction)
	assert.True(t, coffee.Amount.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, 2024, coffee.PaidAt.Year())
	assert.Equal(t, time.February, coffee.PaidAt.Month())

	pay := res.Rows[1]
	assert.Equal(t, domain.Inflow, pay.Direction)
	assert.True(t, pay.Amount.Equal(decimal.NewFromInt(1000)))
}

func TestOFXParser_Garbage(t *testing.T) {
	_, err := (&OFXParser{}).Parse(context.Background(), strings.NewReader("This is not OFX content"))
	assert.Error(t, err)
}

func TestParseAmount(t *testing.T) {
	cases := map[string]string{
		"1,234.56": "1234.56",
		"-12.00":   "-12",
		"+12.00":   "12",
		"(12.00)":  "-12",
		"£12.00":   "12",
		"-£12.00":  "-12",
		"£-12.00":  "-12",
		"- € 7.50": "-7.5",
		"(£3.10)":  "-3.1",
	}
	for in, want := range cases {
		got, err := parseAmount(in)
		require.NoError(t, err, in)
		assert.True(t, got.Equal(decimal.RequireFromString(want)), "%s parsed as %s", in, got)
	}

	_, err := parseAmount("£")
	assert.Error(t, err)
	_, err = parseAmount("twelve")
	assert.Error(t, err)
}
