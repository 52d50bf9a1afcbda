// Package protocol implements the framed, bi-directional message exchange
// between the host process and the enclave over a vsock connection.
package protocol

import "math"

const (
	// EnclavePort is the fixed vsock port the enclave dispatcher binds.
	EnclavePort = 5005
	// EnclaveCID is the default CID assigned to the enclave VM.
	EnclaveCID = 10
	// MaxAllowedCycles bounds the cycle_limit field of an Execute request.
	MaxAllowedCycles = math.MaxUint32
)
