package crypto

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestAddressRoundTripBech32AndHex(t *testing.T) {
	addr := DeriveAddress("alice")
	if addr.IsZero() {
		t.Fatalf("derived address must not be zero")
	}
	encoded := addr.String()
	if !strings.HasPrefix(encoded, "fv1") {
		t.Fatalf("unexpected bech32 form %q", encoded)
	}
	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("decode bech32: %v", err)
	}
	if decoded != addr {
		t.Fatalf("bech32 round trip mismatch")
	}
	fromHex, err := DecodeAddress(addr.Hex())
	if err != nil {
		t.Fatalf("decode hex: %v", err)
	}
	if fromHex != addr {
		t.Fatalf("hex round trip mismatch")
	}
}

func TestDecodeAddressRejectsGarbage(t *testing.T) {
	cases := []string{"", "0x1234", "nhb1qqqqqqqq", "not-an-address"}
	for _, input := range cases {
		if _, err := DecodeAddress(input); err == nil {
			t.Fatalf("expected error for %q", input)
		}
	}
}

func TestAddressTextMarshalling(t *testing.T) {
	addr := DeriveAddress("token:USDC")
	text, err := addr.MarshalText()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Address
	if err := out.UnmarshalText(text); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out != addr {
		t.Fatalf("text round trip mismatch")
	}
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	path := filepath.Join(t.TempDir(), "keys", "deployer.json")
	if err := SaveKeystore(path, key, "hunter2"); err != nil {
		t.Fatalf("save: %v", err)
	}
	addr, err := KeystoreAddress(path)
	if err != nil {
		t.Fatalf("address: %v", err)
	}
	if addr != key.PubKey().Address() {
		t.Fatalf("keystore address mismatch")
	}
	loaded, err := LoadKeystore(path, "hunter2")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.PubKey().Address() != key.PubKey().Address() {
		t.Fatalf("loaded key mismatch")
	}
	if _, err := LoadKeystore(path, "wrong"); err == nil {
		t.Fatalf("expected wrong passphrase to fail")
	}
}
