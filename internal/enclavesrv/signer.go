package enclavesrv

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/nitroproof/tee-prover/internal/protocol"
)

// signResult computes digest = keccak256(vkey ‖ publicValues) and produces a
// recoverable ECDSA-secp256k1 signature over it using the given key. The
// recovery id returned is the raw value in {0, 1}; the host applies the
// Ethereum +27 convention on egress, not the enclave.
func signResult(key *ecdsa.PrivateKey, vkey [32]byte, publicValues []byte) (protocol.SignedPublicValues, error) {
	digest := crypto.Keccak256(vkey[:], publicValues)

	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return protocol.SignedPublicValues{}, fmt.Errorf("enclavesrv: sign digest: %w", err)
	}
	// crypto.Sign returns a 65-byte [R || S || V] signature.
	var out protocol.SignedPublicValues
	out.Vkey = vkey
	out.PublicValues = publicValues
	copy(out.Signature[:], sig[:64])
	out.RecoveryID = sig[64]

	return out, nil
}
