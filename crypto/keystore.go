package crypto

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	ethcommon "github.com/ethereum/go-ethereum/common"
)

var errEmptyKeystorePath = errors.New("crypto: empty keystore path")

// SaveKeystore writes key to an Ethereum v3 keystore file at path. Missing
// parent directories are created with 0700 permissions and the file itself
// is left at 0600.
func SaveKeystore(path string, key *PrivateKey, passphrase string) error {
	if key == nil {
		return errors.New("crypto: nil private key")
	}
	if path == "" {
		return errEmptyKeystorePath
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	staging, err := os.MkdirTemp(dir, "keystore-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(staging)

	ks := keystore.NewKeyStore(staging, keystore.StandardScryptN, keystore.StandardScryptP)
	account, err := ks.ImportECDSA(key.PrivateKey, passphrase)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Rename(account.URL.Path, path); err != nil {
		return err
	}
	return os.Chmod(path, 0o600)
}

// LoadKeystore decrypts the keystore file at path.
func LoadKeystore(path, passphrase string) (*PrivateKey, error) {
	if path == "" {
		return nil, errEmptyKeystorePath
	}
	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	decrypted, err := keystore.DecryptKey(keyJSON, passphrase)
	if err != nil {
		return nil, fmt.Errorf("crypto: decrypt keystore: %w", err)
	}
	return &PrivateKey{PrivateKey: decrypted.PrivateKey}, nil
}

// KeystoreAddress reads the plaintext address recorded in a v3 keystore file
// without decrypting it. Deployment tooling uses it to check funds before
// prompting for a passphrase.
func KeystoreAddress(path string) (Address, error) {
	if path == "" {
		return ZeroAddress, errEmptyKeystorePath
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return ZeroAddress, err
	}
	var header struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return ZeroAddress, fmt.Errorf("crypto: parse keystore: %w", err)
	}
	if !ethcommon.IsHexAddress(header.Address) {
		return ZeroAddress, fmt.Errorf("crypto: keystore has no address")
	}
	return Address(ethcommon.HexToAddress(header.Address)), nil
}
