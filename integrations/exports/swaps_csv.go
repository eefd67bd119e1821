package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"time"
)

var swapHeader = []string{
	"index", "executed_at", "caller", "token_in", "token_in_symbol", "token_out",
	"token_out_symbol", "amount_in", "amount_out", "fee", "digest",
}

// SwapsCSV renders rows as CSV and returns the payload with its SHA-256
// checksum.
func SwapsCSV(rows []SwapRow) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	if err := writer.Write(swapHeader); err != nil {
		return nil, "", err
	}
	for _, row := range rows {
		record := []string{
			strconv.FormatUint(row.Index, 10),
			row.ExecutedAt.UTC().Format(time.RFC3339),
			addressString(row.Caller),
			row.TokenIn.String(),
			row.TokenInSymbol,
			row.TokenOut.String(),
			row.TokenOutSymbol,
			amountString(row.AmountIn),
			amountString(row.AmountOut),
			amountString(row.Fee),
			row.Digest,
		}
		if err := writer.Write(record); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}

// SwapsJSONL renders rows as JSON Lines with a checksum.
func SwapsJSONL(rows []SwapRow) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, row := range rows {
		payload := map[string]interface{}{
			"index":          row.Index,
			"executedAt":     row.ExecutedAt.UTC().Format(time.RFC3339),
			"caller":         addressString(row.Caller),
			"tokenIn":        row.TokenIn.String(),
			"tokenInSymbol":  row.TokenInSymbol,
			"tokenOut":       row.TokenOut.String(),
			"tokenOutSymbol": row.TokenOutSymbol,
			"amountIn":       amountString(row.AmountIn),
			"amountOut":      amountString(row.AmountOut),
			"fee":            amountString(row.Fee),
			"digest":         row.Digest,
		}
		if err := encoder.Encode(payload); err != nil {
			return nil, "", err
		}
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}
