package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
)

const testSalt = "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"

func TestHashBitExact(t *testing.T) {
	h, err := New(testSalt)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := h.Hash("C:\\Users\\x\\file.txt", PurposeFilePath)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	saltBytes, _ := hex.DecodeString(testSalt)
	sum := sha256.New()
	sum.Write(saltBytes)
	sum.Write([]byte("file_path"))
	sum.Write([]byte{0x00})
	sum.Write([]byte("C:\\Users\\x\\file.txt"))
	want := hex.EncodeToString(sum.Sum(nil))

	if got != want {
		t.Fatalf("hash mismatch:\n got  %s\n want %s", got, want)
	}
	if len(got) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(got))
	}
}

func TestHashDeterministic(t *testing.T) {
	h, _ := New(testSalt)
	a, _ := h.Hash("same value", PurposeFreeText)
	b, _ := h.Hash("same value", PurposeFreeText)
	if a != b {
		t.Fatalf("expected deterministic hash, got %s != %s", a, b)
	}
}

func TestHashDiffersByPurpose(t *testing.T) {
	h, _ := New(testSalt)
	a, _ := h.Hash("https://example.com/path", PurposeURL)
	b, _ := h.Hash("https://example.com/path", PurposeFreeText)
	if a == b {
		t.Fatalf("expected different digests for different purposes, got same: %s", a)
	}
}

func TestHashDiffersByValue(t *testing.T) {
	h, _ := New(testSalt)
	a, _ := h.Hash("value one", PurposeFreeText)
	b, _ := h.Hash("value two", PurposeFreeText)
	if a == b {
		t.Fatalf("expected different digests for different values")
	}
}

func TestHashRejectsUnknownPurpose(t *testing.T) {
	h, _ := New(testSalt)
	if _, err := h.Hash("x", Purpose("not_a_purpose")); err == nil {
		t.Fatal("expected error for unknown purpose")
	}
}

func TestNewRejectsBadSalt(t *testing.T) {
	if _, err := New("too-short"); err == nil {
		t.Fatal("expected error for short salt")
	}
	if _, err := New(strings.Repeat("zz", 32)); err == nil {
		t.Fatal("expected error for non-hex salt")
	}
}

func TestExtractDomain(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"https://example.com:8443/path?q=1", "example.com:8443"},
		{"https://example.com/path", "example.com"},
		{"not a url \x7f", ""},
		{"relative/path", ""},
	}
	for _, c := range cases {
		got := ExtractDomain(c.url)
		if got != c.want {
			t.Errorf("ExtractDomain(%q) = %q, want %q", c.url, got, c.want)
		}
	}
}

func TestHashURLHashesEmptyDomainOnFailure(t *testing.T) {
	h, _ := New(testSalt)
	urlHash, domainHash, err := h.HashURL("relative/path")
	if err != nil {
		t.Fatalf("HashURL: %v", err)
	}
	emptyHash, _ := h.Hash("", PurposeURL)
	if domainHash != emptyHash {
		t.Fatalf("expected domain hash of empty string, got different value")
	}
	if urlHash == domainHash {
		t.Fatalf("url hash and domain hash should differ for a non-empty url")
	}
}
