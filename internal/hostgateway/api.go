package hostgateway

import (
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// TEERequest is the client-facing request body for POST /execute.
type TEERequest struct {
	ID         [32]byte `cbor:"id"`
	Program    []byte   `cbor:"program"`
	Stdin      []byte   `cbor:"stdin"`
	CycleLimit uint32   `cbor:"cycle_limit"`
	// Signature is a 65-byte recoverable ECDSA-secp256k1 signature (R ‖ S ‖
	// V, V in {0,1}) over keccak256(ID), proving the caller controls the
	// whitelisted signing address.
	Signature [65]byte `cbor:"signature"`
}

// RecoverSigner recovers the address that produced r.Signature over r.ID.
func (r TEERequest) RecoverSigner() ([20]byte, error) {
	digest := crypto.Keccak256(r.ID[:])
	pub, err := crypto.SigToPub(digest, r.Signature[:])
	if err != nil {
		return [20]byte{}, fmt.Errorf("hostgateway: recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// TEEResponse is the client-facing successful result of an execution. The
// RecoveryID here is the enclave's raw recovery id PLUS 27 (the Ethereum
// convention), applied exactly once, on egress, by the gateway.
type TEEResponse struct {
	Vkey         [32]byte `cbor:"vkey"`
	PublicValues []byte   `cbor:"public_values"`
	Signature    [64]byte `cbor:"signature"`
	RecoveryID   uint8    `cbor:"recovery_id"`
}

// EventKind distinguishes the two EventPayload variants.
type EventKind uint8

const (
	EventSuccess EventKind = iota + 1
	EventError
)

// EventPayload is the single event streamed back over the SSE response.
type EventPayload struct {
	Kind     EventKind    `cbor:"kind"`
	Response *TEEResponse `cbor:"response,omitempty"`
	Error    string       `cbor:"error,omitempty"`
}

func successPayload(resp TEEResponse) EventPayload {
	return EventPayload{Kind: EventSuccess, Response: &resp}
}

func errorPayload(msg string) EventPayload {
	return EventPayload{Kind: EventError, Error: msg}
}
