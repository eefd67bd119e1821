package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix defines the human-readable part of bech32 encoded addresses.
type AddressPrefix string

// VaultPrefix is used for every identity known to the vault host: accounts,
// tokens and contracts alike.
const VaultPrefix AddressPrefix = "fv"

// AddressLength is the size in bytes of an address.
const AddressLength = 20

// Address represents a 20-byte identity. The zero value is the null address.
type Address [AddressLength]byte

// ZeroAddress is the null identity rejected wherever a destination or token is
// required.
var ZeroAddress Address

// NewAddress copies b into an Address. It panics if b is not 20 bytes long.
func NewAddress(b []byte) Address {
	if len(b) != AddressLength {
		panic("address must be 20 bytes long")
	}
	var a Address
	copy(a[:], b)
	return a
}

// BytesToAddress is the non-panicking variant of NewAddress.
func BytesToAddress(b []byte) (Address, error) {
	if len(b) != AddressLength {
		return ZeroAddress, fmt.Errorf("crypto: address must be %d bytes (got %d)", AddressLength, len(b))
	}
	return NewAddress(b), nil
}

// DeriveAddress returns a deterministic address for the supplied label. It is
// used for module identities (vault, pool, venue) that have no private key.
func DeriveAddress(label string) Address {
	digest := crypto.Keccak256([]byte(label))
	return NewAddress(digest[12:])
}

// IsZero reports whether the address is the null identity.
func (a Address) IsZero() bool { return a == ZeroAddress }

func (a Address) Bytes() []byte {
	out := make([]byte, AddressLength)
	copy(out, a[:])
	return out
}

// Hex returns the EIP-55 checksummed hex form.
func (a Address) Hex() string {
	return ethcommon.Address(a).Hex()
}

func (a Address) String() string {
	conv, err := bech32.ConvertBits(a[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(VaultPrefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// MarshalText renders the bech32 form so addresses read naturally in JSON and
// TOML documents.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText accepts either the bech32 or the 0x-prefixed hex form.
func (a *Address) UnmarshalText(text []byte) error {
	decoded, err := DecodeAddress(string(text))
	if err != nil {
		return err
	}
	*a = decoded
	return nil
}

// DecodeAddress parses a bech32 ("fv1...") or hex ("0x...") address.
func DecodeAddress(addrStr string) (Address, error) {
	trimmed := strings.TrimSpace(addrStr)
	if trimmed == "" {
		return ZeroAddress, fmt.Errorf("crypto: empty address")
	}
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		if !ethcommon.IsHexAddress(trimmed) {
			return ZeroAddress, fmt.Errorf("crypto: invalid hex address %q", trimmed)
		}
		raw, err := hex.DecodeString(trimmed[2:])
		if err != nil {
			return ZeroAddress, fmt.Errorf("crypto: decode hex address: %w", err)
		}
		return NewAddress(raw), nil
	}
	prefix, decoded, err := bech32.Decode(trimmed)
	if err != nil {
		return ZeroAddress, fmt.Errorf("invalid bech32 string: %w", err)
	}
	if AddressPrefix(prefix) != VaultPrefix {
		return ZeroAddress, fmt.Errorf("crypto: unexpected address prefix %q", prefix)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return ZeroAddress, fmt.Errorf("error converting bits: %w", err)
	}
	return BytesToAddress(conv)
}

// MustDecodeAddress is DecodeAddress for constants and tests.
func MustDecodeAddress(addrStr string) Address {
	addr, err := DecodeAddress(addrStr)
	if err != nil {
		panic(err)
	}
	return addr
}

// --- Key Management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

func (k *PublicKey) Address() Address {
	return Address(crypto.PubkeyToAddress(*k.PublicKey))
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}
