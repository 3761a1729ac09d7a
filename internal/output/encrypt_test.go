package output

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/medforge/casgen/internal/domain"
)

var testKey = bytes.Repeat([]byte{0x42}, 32)

func TestNewEncryptor_RejectsBadKeyLengths(t *testing.T) {
	for _, n := range []int{0, 1, 15, 17, 31, 33, 64} {
		_, err := NewEncryptor(bytes.Repeat([]byte{1}, n))
		if err == nil {
			t.Fatalf("key length %d accepted", n)
		}
		var ee *domain.EngineError
		if !errors.As(err, &ee) || ee.Code != domain.ErrEncryptionKey.Code {
			t.Fatalf("key length %d: unexpected error %v", n, err)
		}
	}
	for _, n := range []int{16, 24, 32} {
		if _, err := NewEncryptor(bytes.Repeat([]byte{1}, n)); err != nil {
			t.Fatalf("key length %d rejected: %v", n, err)
		}
	}
}

func TestSealOpen_RoundTrip(t *testing.T) {
	enc, err := NewEncryptor(testKey)
	if err != nil {
		t.Fatalf("NewEncryptor failed: %v", err)
	}
	plaintext := []byte(`{"resourceType":"Bundle"}`)

	sealed, err := enc.Seal(plaintext)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if bytes.Contains(sealed, plaintext) {
		t.Fatal("sealed output contains plaintext")
	}
	opened, err := enc.Open(sealed)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("round trip mismatch: %q", opened)
	}
}

func TestSeal_NoncesDiffer(t *testing.T) {
	enc, _ := NewEncryptor(testKey)
	plaintext := []byte("same input")

	a, err := enc.Seal(plaintext)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	b, err := enc.Seal(plaintext)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatal("two seals of the same plaintext produced identical output")
	}
}

func TestOpen_TamperRejected(t *testing.T) {
	enc, _ := NewEncryptor(testKey)
	sealed, _ := enc.Seal([]byte("payload"))
	sealed[len(sealed)-1] ^= 0xFF

	if _, err := enc.Open(sealed); err == nil {
		t.Fatal("expected tampered ciphertext to be rejected")
	}
}

func TestOpen_TooShort(t *testing.T) {
	enc, _ := NewEncryptor(testKey)
	if _, err := enc.Open([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected short ciphertext to be rejected")
	}
}

func TestSealFile_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "casualties.ndjson.gz")
	content := []byte("pretend gzip bytes")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	enc, _ := NewEncryptor(testKey)
	sealedPath, err := enc.SealFile(path)
	if err != nil {
		t.Fatalf("SealFile failed: %v", err)
	}
	if sealedPath != path+".enc" {
		t.Fatalf("sealed path = %s", sealedPath)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("plaintext file still present after sealing")
	}

	openedPath, err := enc.OpenFile(sealedPath)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	got, err := os.ReadFile(openedPath)
	if err != nil {
		t.Fatalf("reading opened file: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("file round trip mismatch: %q", got)
	}
}

func TestKeyFromHex(t *testing.T) {
	key, err := KeyFromHex("00112233445566778899aabbccddeeff")
	if err != nil || len(key) != 16 {
		t.Fatalf("KeyFromHex(valid) = (%d bytes, %v)", len(key), err)
	}
	if _, err := KeyFromHex("zz"); err == nil {
		t.Fatal("expected invalid hex to be rejected")
	}
	if _, err := KeyFromHex("0011"); err == nil {
		t.Fatal("expected short key to be rejected")
	}
}
