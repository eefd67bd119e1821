package bank

import (
	"bytes"
	"sort"

	"flashvault/core/state"
)

func sortBalances(list []state.StoredBalance) {
	sort.Slice(list, func(i, j int) bool {
		return bytes.Compare(list[i].Owner[:], list[j].Owner[:]) < 0
	})
}
