package staging

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/dvloznov/cashflow-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

// Fingerprint derives a stable source id for rows the bank did not label.
// Format: "fp-" + SHA256("{date}|{amount}|{name}|{direction}") with the
// amount at two decimals and the name normalized.
func Fingerprint(paid string, amount decimal.Decimal, name string, direction domain.FlowDirection) string {
	input := fmt.Sprintf("%s|%s|%s|%s", paid, amount.Abs().StringFixed(2), domain.NormalizeLabel(name), direction)
	hash := sha256.Sum256([]byte(input))
	return "fp-" + hex.EncodeToString(hash[:])
}

func sourceID(row ParsedRow) string {
	if row.SourceTransactionID != "" {
		return row.SourceTransactionID
	}
	return Fingerprint(row.PaidAt.UTC().Format("2006-01-02"), row.Amount, row.Name, row.Direction)
}
