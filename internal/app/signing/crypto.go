package signing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"
)

const (
	KeyVersionV1 = "v1"
)

var (
	hkdfSalt = []byte("oracle-signer")
)

// Keccak256 hashes the concatenation of data.
func Keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// DeriveSecp256k1PrivateKey derives a stable signing key from a seed.
func DeriveSecp256k1PrivateKey(masterKeySeed []byte, keyVersion string) (*secp256k1.PrivateKey, error) {
	if len(masterKeySeed) == 0 {
		return nil, fmt.Errorf("signing key seed is required")
	}
	keyVersion = strings.TrimSpace(keyVersion)
	if keyVersion == "" {
		return nil, fmt.Errorf("keyVersion is required")
	}

	info := []byte("oracle-signer-" + keyVersion)
	reader := hkdf.New(sha256.New, masterKeySeed, hkdfSalt, info)

	okm := make([]byte, 32)
	if _, err := io.ReadFull(reader, okm); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	// PrivKeyFromBytes reduces modulo the group order; zero is the only
	// invalid outcome.
	priv := secp256k1.PrivKeyFromBytes(okm)
	if priv.Key.IsZero() {
		return nil, fmt.Errorf("derived key is zero")
	}
	return priv, nil
}

// AddressFromPublicKey returns the 0x-prefixed Ethereum-style address.
func AddressFromPublicKey(pub *secp256k1.PublicKey) string {
	uncompressed := pub.SerializeUncompressed()
	return "0x" + hex.EncodeToString(Keccak256(uncompressed[1:])[12:])
}

// RecoverAddress recovers the signer address of a 64-byte r||s signature for
// the given recovery bit.
func RecoverAddress(digest, signature []byte, recoveryBit byte) (string, error) {
	if len(signature) != 64 {
		return "", fmt.Errorf("signature must be 64 bytes, got %d", len(signature))
	}
	if recoveryBit > 1 {
		return "", fmt.Errorf("recovery bit must be 0 or 1")
	}
	compact := make([]byte, 65)
	compact[0] = 27 + recoveryBit
	copy(compact[1:], signature)

	pub, _, err := ecdsa.RecoverCompact(compact, digest)
	if err != nil {
		return "", fmt.Errorf("recover public key: %w", err)
	}
	return AddressFromPublicKey(pub), nil
}

// Signer is the raw signing primitive: it signs a 32-byte digest and returns
// a 64-byte r||s signature without a recovery byte.
type Signer interface {
	SignDigest(ctx context.Context, digest []byte) ([]byte, error)
	Address() string
}

// KeySigner signs with an in-process secp256k1 key.
type KeySigner struct {
	key     *secp256k1.PrivateKey
	address string
}

// NewKeySigner wraps key.
func NewKeySigner(key *secp256k1.PrivateKey) *KeySigner {
	return &KeySigner{key: key, address: AddressFromPublicKey(key.PubKey())}
}

// NewKeySignerFromSeed derives the key from seed and version.
func NewKeySignerFromSeed(seed []byte, version string) (*KeySigner, error) {
	key, err := DeriveSecp256k1PrivateKey(seed, version)
	if err != nil {
		return nil, err
	}
	return NewKeySigner(key), nil
}

func (s *KeySigner) Address() string { return s.address }

func (s *KeySigner) SignDigest(_ context.Context, digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("digest must be 32 bytes, got %d", len(digest))
	}
	compact := ecdsa.SignCompact(s.key, digest, false)
	return compact[1:], nil
}
