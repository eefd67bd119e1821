package exports

import (
	"math/big"
	"time"

	"flashvault/core/events"
	"flashvault/crypto"
	"flashvault/storage/journal"
)

// SwapRow is one committed flash swap flattened for reporting.
type SwapRow struct {
	Index          uint64
	ExecutedAt     time.Time
	Caller         crypto.Address
	TokenIn        crypto.Address
	TokenInSymbol  string
	TokenOut       crypto.Address
	TokenOutSymbol string
	AmountIn       *big.Int
	AmountOut      *big.Int
	Fee            *big.Int
	Digest         string
}

// SwapsFromRecords keeps the flash swap records of a journal page. symbols
// labels token addresses and may be nil.
func SwapsFromRecords(records []journal.Record, symbols map[crypto.Address]string) []SwapRow {
	rows := make([]SwapRow, 0, len(records))
	for _, rec := range records {
		swap, ok := events.DecodeFlashSwapExecuted(rec.Event())
		if !ok {
			continue
		}
		rows = append(rows, SwapRow{
			Index:          rec.Index,
			ExecutedAt:     time.Unix(swap.Timestamp, 0).UTC(),
			Caller:         swap.Caller,
			TokenIn:        swap.TokenIn,
			TokenInSymbol:  symbols[swap.TokenIn],
			TokenOut:       swap.TokenOut,
			TokenOutSymbol: symbols[swap.TokenOut],
			AmountIn:       swap.AmountIn,
			AmountOut:      swap.AmountOut,
			Fee:            swap.Fee,
			Digest:         rec.Digest,
		})
	}
	return rows
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func addressString(a crypto.Address) string {
	if a.IsZero() {
		return ""
	}
	return a.String()
}
