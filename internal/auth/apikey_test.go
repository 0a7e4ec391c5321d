package auth

import (
	"errors"
	"strings"
	"testing"
)

func TestMintAPIKeyRoundTrip(t *testing.T) {
	key, hash, err := MintAPIKey()
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if !strings.HasPrefix(key, "fsk_") {
		t.Fatalf("key %q missing prefix", key)
	}
	if !strings.HasPrefix(hash, "pbkdf2$sha256$") {
		t.Fatalf("hash %q has unexpected format", hash)
	}

	manager := NewAPIKeyManager([]string{hash})
	if !manager.Enabled() {
		t.Fatal("manager should be enabled")
	}
	if err := manager.Verify(key); err != nil {
		t.Fatalf("verify minted key: %v", err)
	}
	if err := manager.Verify(key + "x"); !errors.Is(err, ErrInvalidAPIKey) {
		t.Fatalf("tampered key err = %v", err)
	}
	if err := manager.Verify(""); !errors.Is(err, ErrInvalidAPIKey) {
		t.Fatalf("blank key err = %v", err)
	}
}

func TestVerifyAgainstMultipleHashes(t *testing.T) {
	first, firstHash, err := MintAPIKey()
	if err != nil {
		t.Fatalf("mint first: %v", err)
	}
	second, secondHash, err := MintAPIKey()
	if err != nil {
		t.Fatalf("mint second: %v", err)
	}

	manager := NewAPIKeyManager([]string{firstHash, secondHash})
	if err := manager.Verify(first); err != nil {
		t.Fatalf("first key: %v", err)
	}
	if err := manager.Verify(second); err != nil {
		t.Fatalf("second key: %v", err)
	}
}

func TestNewAPIKeyManagerDropsBlankEntries(t *testing.T) {
	manager := NewAPIKeyManager([]string{"", "   ", "\t"})
	if manager.Enabled() {
		t.Fatal("blank-only manager should be disabled")
	}
}

func TestVerifyRejectsMalformedHashes(t *testing.T) {
	manager := NewAPIKeyManager([]string{
		"plaintext",
		"pbkdf2$md5$1000$c2FsdA$aGFzaA",
		"pbkdf2$sha256$zero$c2FsdA$aGFzaA",
		"pbkdf2$sha256$1000$!!!$aGFzaA",
	})
	if err := manager.Verify("fsk_whatever"); !errors.Is(err, ErrInvalidAPIKey) {
		t.Fatalf("err = %v, want ErrInvalidAPIKey", err)
	}
}

func TestHashAPIKeyUsesFreshSalt(t *testing.T) {
	first, err := HashAPIKey("fsk_static")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	second, err := HashAPIKey("fsk_static")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if first == second {
		t.Fatal("identical hashes imply salt reuse")
	}
	manager := NewAPIKeyManager([]string{first, second})
	if err := manager.Verify("fsk_static"); err != nil {
		t.Fatalf("verify: %v", err)
	}
}
