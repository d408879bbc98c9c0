//go:build !integration

package security

import (
	"errors"
	"strings"
	"testing"
)

const testKey = "0123456789abcdef0123456789abcdef"

func TestEncryptionService_RoundTrip(t *testing.T) {
	svc, err := NewEncryptionService(testKey)
	if err != nil {
		t.Fatalf("NewEncryptionService: %v", err)
	}
	sealed, err := svc.Encrypt("sk-live-123")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if !strings.HasPrefix(sealed, sealedPrefix) || strings.Contains(sealed, "sk-live-123") {
		t.Fatalf("unexpected sealed form %q", sealed)
	}
	again, _ := svc.Encrypt("sk-live-123")
	if again == sealed {
		t.Fatalf("nonce must differ between calls")
	}
	plain, err := svc.Decrypt(sealed)
	if err != nil || plain != "sk-live-123" {
		t.Fatalf("Decrypt = %q, %v", plain, err)
	}
}

func TestEncryptionService_Rejects(t *testing.T) {
	if _, err := NewEncryptionService("short"); err == nil {
		t.Fatalf("short key accepted")
	}

	svc, _ := NewEncryptionService(testKey)
	if _, err := svc.Decrypt("sk-plain"); !errors.Is(err, ErrNotSealed) {
		t.Fatalf("plain value err = %v", err)
	}

	other, _ := NewEncryptionService("fedcba9876543210fedcba9876543210")
	sealed, _ := other.Encrypt("x")
	if _, err := svc.Decrypt(sealed); err == nil {
		t.Fatalf("value sealed with another key must not open")
	}
}
