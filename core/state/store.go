package state

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"flashvault/crypto"
	"flashvault/storage"
)

// StateVersion identifies the on-disk layout of the persisted snapshot.
const StateVersion uint64 = 1

var (
	stateVersionKey = []byte("state/version")
	snapshotKey     = []byte("state/snapshot")

	// ErrStateVersionMismatch indicates the stored schema version does not
	// match the version supported by the current binary.
	ErrStateVersionMismatch = errors.New("state: schema version mismatch")
)

// Snapshot is the complete persisted host state. It is written as a single
// record so a commit is all-or-nothing on disk as well.
type Snapshot struct {
	Vault  StoredVault
	Bank   []StoredBalance
	Tokens []StoredToken
	Pool   []StoredPoolLedger
	Venue  []StoredPair
}

// StoredVault is the RLP form of Vault.
type StoredVault struct {
	Owner            crypto.Address
	PendingOwner     crypto.Address
	Paused           bool
	SlippageBps      uint32
	Whitelist        []crypto.Address
	Balances         []StoredBalance
	TokenBalances    []StoredTokenBalance
	TotalDeposits    *big.Int
	TotalWithdrawals *big.Int
	SwapCount        uint64
}

// StoredBalance pairs an identity with an amount.
type StoredBalance struct {
	Owner  crypto.Address
	Amount *big.Int
}

// StoredTokenBalance is one custodied token balance.
type StoredTokenBalance struct {
	Token  crypto.Address
	Owner  crypto.Address
	Amount *big.Int
}

// StoredAllowance is one ERC-20 allowance.
type StoredAllowance struct {
	Owner   crypto.Address
	Spender crypto.Address
	Amount  *big.Int
}

// StoredToken is the RLP form of a token ledger.
type StoredToken struct {
	Address    crypto.Address
	Symbol     string
	Decimals   uint8
	Supply     *big.Int
	Balances   []StoredBalance
	Allowances []StoredAllowance
}

// StoredPoolLedger is the RLP form of the flash-loan pool's per-token
// accounting.
type StoredPoolLedger struct {
	Token    crypto.Address
	Borrowed *big.Int
	Fees     *big.Int
	Loans    uint64
}

// StoredPair is the RLP form of a venue liquidity pair.
type StoredPair struct {
	TokenA   crypto.Address
	TokenB   crypto.Address
	ReserveA *big.Int
	ReserveB *big.Int
}

// Export converts the vault into its stored form.
func (v *Vault) Export() StoredVault {
	out := StoredVault{
		Owner:            v.owner,
		PendingOwner:     v.pendingOwner,
		Paused:           v.paused,
		SlippageBps:      v.slippageBps,
		Whitelist:        v.Whitelist(),
		TotalDeposits:    cloneOrZero(v.totalDeposits),
		TotalWithdrawals: cloneOrZero(v.totalWithdrawals),
		SwapCount:        v.swapCount,
	}
	owners := make([]crypto.Address, 0, len(v.balances))
	for owner := range v.balances {
		owners = append(owners, owner)
	}
	sortAddresses(owners)
	for _, owner := range owners {
		out.Balances = append(out.Balances, StoredBalance{Owner: owner, Amount: v.Balance(owner)})
	}
	tokens := make([]crypto.Address, 0, len(v.tokens))
	for token := range v.tokens {
		tokens = append(tokens, token)
	}
	sortAddresses(tokens)
	for _, token := range tokens {
		holders := make([]crypto.Address, 0, len(v.tokens[token]))
		for owner := range v.tokens[token] {
			holders = append(holders, owner)
		}
		sortAddresses(holders)
		for _, owner := range holders {
			out.TokenBalances = append(out.TokenBalances, StoredTokenBalance{
				Token:  token,
				Owner:  owner,
				Amount: v.TokenBalance(token, owner),
			})
		}
	}
	return out
}

// ImportVault rebuilds a vault from its stored form. Locked totals are
// recomputed from the individual balances.
func ImportVault(stored StoredVault) *Vault {
	v := NewVault(stored.Owner)
	v.pendingOwner = stored.PendingOwner
	v.paused = stored.Paused
	v.slippageBps = stored.SlippageBps
	v.swapCount = stored.SwapCount
	for _, token := range stored.Whitelist {
		v.whitelist[token] = true
	}
	for _, bal := range stored.Balances {
		if bal.Amount != nil && bal.Amount.Sign() > 0 {
			v.balances[bal.Owner] = new(big.Int).Set(bal.Amount)
		}
	}
	for _, bal := range stored.TokenBalances {
		if bal.Amount == nil || bal.Amount.Sign() <= 0 {
			continue
		}
		holders := v.tokens[bal.Token]
		if holders == nil {
			holders = make(map[crypto.Address]*big.Int)
			v.tokens[bal.Token] = holders
		}
		holders[bal.Owner] = new(big.Int).Set(bal.Amount)
		v.locked[bal.Token] = new(big.Int).Add(v.LockedTotal(bal.Token), bal.Amount)
	}
	if stored.TotalDeposits != nil {
		v.totalDeposits = new(big.Int).Set(stored.TotalDeposits)
	}
	if stored.TotalWithdrawals != nil {
		v.totalWithdrawals = new(big.Int).Set(stored.TotalWithdrawals)
	}
	return v
}

// Store persists host snapshots to a key-value database.
type Store struct {
	db storage.Database
}

// NewStore wraps db.
func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

// Save writes the snapshot and the schema version.
func (s *Store) Save(snap *Snapshot) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("state: store unavailable")
	}
	encoded, err := rlp.EncodeToBytes(snap)
	if err != nil {
		return fmt.Errorf("state: encode snapshot: %w", err)
	}
	version, err := rlp.EncodeToBytes(StateVersion)
	if err != nil {
		return err
	}
	if err := s.db.Put(stateVersionKey, version); err != nil {
		return fmt.Errorf("state: write version: %w", err)
	}
	if err := s.db.Put(snapshotKey, encoded); err != nil {
		return fmt.Errorf("state: write snapshot: %w", err)
	}
	return nil
}

// Load reads the last committed snapshot. It returns (nil, nil) when the
// database is empty.
func (s *Store) Load() (*Snapshot, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("state: store unavailable")
	}
	rawVersion, err := s.db.Get(stateVersionKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: read version: %w", err)
	}
	var version uint64
	if err := rlp.DecodeBytes(rawVersion, &version); err != nil {
		return nil, fmt.Errorf("state: decode version: %w", err)
	}
	if version != StateVersion {
		return nil, fmt.Errorf("%w: stored %d, supported %d", ErrStateVersionMismatch, version, StateVersion)
	}
	raw, err := s.db.Get(snapshotKey)
	if err != nil {
		return nil, fmt.Errorf("state: read snapshot: %w", err)
	}
	snap := new(Snapshot)
	if err := rlp.DecodeBytes(raw, snap); err != nil {
		return nil, fmt.Errorf("state: decode snapshot: %w", err)
	}
	return snap, nil
}
