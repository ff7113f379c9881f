// Package hashutil implements the single purpose-scoped hashing primitive
// the whole capture pipeline depends on for its privacy contract (spec
// §4.2). The construction is bit-exact and intentionally narrow: there is
// no general-purpose hashing helper here, only the one the spec mandates.
package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
)

// Purpose is the closed domain of hash-separation tags. A digest computed
// for one purpose never collides, by construction, with the same value
// hashed for a different purpose.
type Purpose string

const (
	PurposeWindowTitle Purpose = "window_title"
	PurposeFilePath    Purpose = "file_path"
	PurposeURL         Purpose = "url"
	PurposeExePath     Purpose = "exe_path"
	PurposeFreeText    Purpose = "free_text"
)

func (p Purpose) valid() bool {
	switch p {
	case PurposeWindowTitle, PurposeFilePath, PurposeURL, PurposeExePath, PurposeFreeText:
		return true
	}
	return false
}

// Hasher computes purpose-scoped salted digests. The zero value is not
// usable; construct with New.
type Hasher struct {
	salt []byte
}

// New builds a Hasher from a 64-hex-character salt, as loaded from
// configuration (spec §6 hashing.salt).
func New(saltHex string) (*Hasher, error) {
	if len(saltHex) != 64 {
		return nil, fmt.Errorf("hashutil: salt must be 64 hex characters, got %d", len(saltHex))
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return nil, fmt.Errorf("hashutil: decode salt: %w", err)
	}
	return &Hasher{salt: salt}, nil
}

// Hash computes sha256(salt || purpose || 0x00 || value) and returns the
// 64-hex-digit digest. Different purposes for the same value always yield
// different digests; the same (value, purpose) pair always yields the same
// digest for the life of the salt.
func (h *Hasher) Hash(value string, purpose Purpose) (string, error) {
	if !purpose.valid() {
		return "", errors.New("hashutil: unknown purpose " + string(purpose))
	}
	hasher := sha256.New()
	hasher.Write(h.salt)
	hasher.Write([]byte(purpose))
	hasher.Write([]byte{0x00})
	hasher.Write([]byte(value))
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// HashURL hashes a raw URL with PurposeURL and, separately, its authority
// ("host[:port]") component, also with PurposeURL (domains are URL
// components, not a distinct purpose). On parse failure or an empty
// authority, the domain hash is computed over the empty string rather than
// skipped — the URL is still hashed either way.
func (h *Hasher) HashURL(rawURL string) (urlHash, domainHash string, err error) {
	urlHash, err = h.Hash(rawURL, PurposeURL)
	if err != nil {
		return "", "", err
	}
	domainHash, err = h.Hash(ExtractDomain(rawURL), PurposeURL)
	if err != nil {
		return "", "", err
	}
	return urlHash, domainHash, nil
}

// ExtractDomain returns the "host[:port]" authority of a URL, or the empty
// string if the URL doesn't parse or carries no authority.
func ExtractDomain(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
