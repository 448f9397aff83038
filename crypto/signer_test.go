package crypto

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

func TestSignPersonalRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	digest := ethcrypto.Keccak256Hash([]byte("POOL"))
	sig, err := SignPersonal(key, digest)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if v := sig[64]; v != 27 && v != 28 {
		t.Fatalf("unexpected recovery id %d", v)
	}
	got, err := RecoverPersonal(digest, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if got != key.Address() {
		t.Fatalf("recovered %s, want %s", got.Hex(), key.Address().Hex())
	}

	raw := append([]byte(nil), sig...)
	raw[64] -= 27
	if again, err := RecoverPersonal(digest, raw); err != nil || again != got {
		t.Fatalf("raw recovery id: got %s err %v", again.Hex(), err)
	}
}

func TestRecoverPersonalRejectsMalformed(t *testing.T) {
	digest := common.HexToHash("0x01")
	if _, err := RecoverPersonal(digest, make([]byte, 64)); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected invalid signature for short input, got %v", err)
	}
	bad := make([]byte, SignatureLength)
	bad[64] = 30
	if _, err := RecoverPersonal(digest, bad); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected invalid signature for recovery id, got %v", err)
	}
	zero := make([]byte, SignatureLength)
	zero[64] = 27
	if _, err := RecoverPersonal(digest, zero); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected invalid signature for zero r/s, got %v", err)
	}
}

func TestRecoverPersonalDifferentDigest(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	sig, err := SignPersonal(key, common.HexToHash("0xaa"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	got, err := RecoverPersonal(common.HexToHash("0xbb"), sig)
	if err == nil && got == key.Address() {
		t.Fatalf("signature must not verify against a different digest")
	}
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	path := filepath.Join(t.TempDir(), "keys", "cosigner.json")
	addr, err := saveToKeystore(path, key, "secret", keystore.LightScryptN, keystore.LightScryptP)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if addr != key.Address() {
		t.Fatalf("address mismatch")
	}
	loaded, err := LoadFromKeystore(path, "secret")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Address() != addr {
		t.Fatalf("loaded key address mismatch")
	}
	if _, err := LoadFromKeystore(path, "wrong"); err == nil {
		t.Fatalf("expected wrong passphrase to fail")
	}
}

func TestParseAddress(t *testing.T) {
	if _, err := ParseAddress("0x1234"); err == nil {
		t.Fatalf("expected short address to fail")
	}
	addr, err := ParseAddress("0x1111111254EEB25477B68fb85Ed929f73A960582")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if addr != common.HexToAddress("0x1111111254EEB25477B68fb85Ed929f73A960582") {
		t.Fatalf("unexpected address %s", addr.Hex())
	}
}
