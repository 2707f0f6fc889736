// Package keystore loads the oracle's Sui Ed25519 key and signs transactions with it.
package keystore

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// FlagEd25519 is the Sui signature scheme flag for Ed25519.
const FlagEd25519 byte = 0x00

// intentTransaction is the intent prefix for a TransactionData message: scope 0, version 0, app id 0.
var intentTransaction = []byte{0, 0, 0}

var (
	// ErrInvalidKey indicates that the key material could not be decoded.
	ErrInvalidKey = errors.New("invalid private key")
	// ErrUnsupportedScheme indicates a key with a non-Ed25519 scheme flag.
	ErrUnsupportedScheme = errors.New("unsupported key scheme")
	// ErrKeyNotFound indicates that no key exists at the requested keystore index.
	ErrKeyNotFound = errors.New("key not found in keystore")
	// ErrAddressMismatch indicates that the key does not derive to the configured signer address.
	ErrAddressMismatch = errors.New("derived address does not match configured signer")
)

// Signer holds an Ed25519 key pair and its Sui address.
type Signer struct {
	priv    ed25519.PrivateKey
	pub     ed25519.PublicKey
	address string
}

// ParseKey decodes a base64 key as stored in sui.keystore: flag || 32-byte seed.
// A bare 32-byte seed is accepted as Ed25519.
func ParseKey(encoded string) (*Signer, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	var seed []byte
	switch len(raw) {
	case ed25519.SeedSize + 1:
		if raw[0] != FlagEd25519 {
			return nil, fmt.Errorf("%w: flag 0x%02x", ErrUnsupportedScheme, raw[0])
		}
		seed = raw[1:]
	case ed25519.SeedSize:
		seed = raw
	default:
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidKey, len(raw))
	}

	return FromSeed(seed), nil
}

// FromSeed builds a signer from a 32-byte Ed25519 seed.
func FromSeed(seed []byte) *Signer {
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &Signer{
		priv:    priv,
		pub:     pub,
		address: DeriveAddress(pub),
	}
}

// LoadKeystoreFile reads a sui.keystore file (JSON array of base64 keys) and returns the key at index.
func LoadKeystoreFile(path string, index int) (*Signer, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- operator supplied path
	if err != nil {
		return nil, fmt.Errorf("failed to read keystore: %w", err)
	}

	var keys []string
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("%w: keystore is not a JSON array: %v", ErrInvalidKey, err)
	}
	if index < 0 || index >= len(keys) {
		return nil, fmt.Errorf("%w: index %d of %d", ErrKeyNotFound, index, len(keys))
	}
	return ParseKey(keys[index])
}

// DeriveAddress returns "0x" + hex(blake2b256(flag || pubkey)).
func DeriveAddress(pub ed25519.PublicKey) string {
	buf := make([]byte, 0, 1+len(pub))
	buf = append(buf, FlagEd25519)
	buf = append(buf, pub...)
	sum := blake2b.Sum256(buf)
	return "0x" + hex.EncodeToString(sum[:])
}

// Address returns the signer's Sui address.
func (s *Signer) Address() string {
	return s.address
}

// PublicKey returns the Ed25519 public key.
func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.pub
}

// VerifyAddress checks the signer against an expected address. Empty expected always passes.
func (s *Signer) VerifyAddress(expected string) error {
	if expected == "" {
		return nil
	}
	if NormalizeAddress(expected) != s.address {
		return fmt.Errorf("%w: configured %s, key derives %s", ErrAddressMismatch, expected, s.address)
	}
	return nil
}

// SignTransaction signs base64 transaction bytes and returns the serialized signature
// base64(flag || signature || pubkey).
func (s *Signer) SignTransaction(txBytesB64 string) (string, error) {
	txBytes, err := base64.StdEncoding.DecodeString(txBytesB64)
	if err != nil {
		return "", fmt.Errorf("invalid tx bytes: %w", err)
	}

	sig := ed25519.Sign(s.priv, IntentDigest(txBytes))

	out := make([]byte, 0, 1+ed25519.SignatureSize+ed25519.PublicKeySize)
	out = append(out, FlagEd25519)
	out = append(out, sig...)
	out = append(out, s.pub...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// IntentDigest is blake2b256(intent || txBytes), the message Sui signatures commit to.
func IntentDigest(txBytes []byte) []byte {
	msg := make([]byte, 0, len(intentTransaction)+len(txBytes))
	msg = append(msg, intentTransaction...)
	msg = append(msg, txBytes...)
	sum := blake2b.Sum256(msg)
	return sum[:]
}

// NormalizeAddress lowercases and left-pads a hex address to 32 bytes.
func NormalizeAddress(addr string) string {
	a := strings.ToLower(strings.TrimPrefix(strings.TrimPrefix(addr, "0x"), "0X"))
	if len(a) < 64 {
		a = strings.Repeat("0", 64-len(a)) + a
	}
	return "0x" + a
}
