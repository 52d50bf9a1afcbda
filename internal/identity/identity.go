// Package identity owns the enclave's secp256k1 signing key and derives its
// Ethereum-style address from the uncompressed public key.
package identity

import (
	"crypto/ecdsa"
	"errors"

	"github.com/ethereum/go-ethereum/crypto"
)

// ErrBadEncoding is returned when a SEC1 point is not an uncompressed
// (0x04 ‖ X ‖ Y) encoding. Compressed, compact, or malformed points MUST
// produce this error rather than a wrong address.
var ErrBadEncoding = errors.New("identity: not an uncompressed SEC1 point")

const (
	sec1UncompressedLen    = 65
	sec1UncompressedPrefix = 0x04
)

// Identity is the enclave's long-lived key material: a signing key created
// uniformly at random on enclave start, the corresponding public key, and
// (conceptually) the platform measurement vector that the attestation
// producer binds it to. The private key is exclusively owned by the
// dispatcher and is never serialized.
type Identity struct {
	signingKey *ecdsa.PrivateKey
}

// New generates a fresh secp256k1 signing key.
func New() (*Identity, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return &Identity{signingKey: key}, nil
}

// SigningKey returns the private key. Callers must not leak it outside the
// enclave process.
func (id *Identity) SigningKey() *ecdsa.PrivateKey {
	return id.signingKey
}

// PublicKeySEC1 returns the uncompressed SEC1 encoding (0x04 ‖ X ‖ Y) of the
// current public key.
func (id *Identity) PublicKeySEC1() []byte {
	return crypto.FromECDSAPub(&id.signingKey.PublicKey)
}

// Address returns the 20-byte Ethereum-style address derived from the
// current public key.
func (id *Identity) Address() [20]byte {
	addr, _ := DeriveAddress(id.PublicKeySEC1())
	return addr
}

// DeriveAddress derives the low-order 20 bytes of keccak256(X ‖ Y) from an
// uncompressed SEC1 point. Any other encoding (compressed, compact, or
// malformed) returns ErrBadEncoding rather than a silently wrong address.
func DeriveAddress(sec1 []byte) ([20]byte, error) {
	var out [20]byte
	if len(sec1) != sec1UncompressedLen || sec1[0] != sec1UncompressedPrefix {
		return out, ErrBadEncoding
	}
	digest := crypto.Keccak256(sec1[1:])
	copy(out[:], digest[12:])
	return out, nil
}
