package events

import (
	"math/big"
	"strconv"

	"flashvault/crypto"
)

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

func timestampString(ts int64) string {
	return strconv.FormatInt(ts, 10)
}
