package attestation

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hf/nitrite"

	"github.com/nitroproof/tee-prover/internal/identity"
)

// Distinct error kinds so a verifier CLI can discriminate "wrong version"
// (expected when scanning a bucket with multiple protocol versions) from a
// true chain or measurement failure.
var (
	ErrChainInvalid        = errors.New("attestation: root-of-trust chain invalid")
	ErrMeasurementMismatch = errors.New("attestation: PCR0 measurement mismatch")
	ErrVersionMismatch     = errors.New("attestation: version mismatch")
	ErrAddressMismatch     = errors.New("attestation: public key does not derive to expected address")
	ErrMissingField        = errors.New("attestation: required field missing from document")
)

// VerifyParams are the expected values an attestation document is checked
// against.
type VerifyParams struct {
	ExpectedPCR0    string // hex, case-insensitive, optional 0x prefix
	ExpectedVersion uint32
	ExpectedAddress [20]byte
	Now             time.Time
}

// Result is the subset of a verified attestation document callers need.
type Result struct {
	PublicKeySEC1 []byte
	Address       [20]byte
}

// Verify walks the COSE-Sign1 envelope's CA bundle to the pinned Nitro root,
// checks the COSE signature, then checks PCR0, the version tag, and the
// derived address, in that order (matching the reference implementation
// this system was distilled from), each with a distinct error kind.
func Verify(doc []byte, params VerifyParams) (Result, error) {
	now := params.Now
	if now.IsZero() {
		now = time.Now()
	}

	verified, err := nitrite.Verify(doc, nitrite.VerifyOptions{CurrentTime: now})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrChainInvalid, err)
	}

	pcr0, ok := verified.Document.PCRs[0]
	if !ok {
		return Result{}, fmt.Errorf("%w: pcr0", ErrMissingField)
	}
	wantPCR0 := strings.ToLower(strings.TrimPrefix(strings.ToLower(params.ExpectedPCR0), "0x"))
	if hex.EncodeToString(pcr0) != wantPCR0 {
		return Result{}, fmt.Errorf("%w: expected %s got %x", ErrMeasurementMismatch, wantPCR0, pcr0)
	}

	if verified.Document.UserData == nil {
		return Result{}, fmt.Errorf("%w: user_data", ErrMissingField)
	}
	wantVersion := make([]byte, 4)
	binary.LittleEndian.PutUint32(wantVersion, params.ExpectedVersion)
	if !bytesEqual(verified.Document.UserData, wantVersion) {
		return Result{}, fmt.Errorf("%w: expected version %d", ErrVersionMismatch, params.ExpectedVersion)
	}

	if verified.Document.PublicKey == nil {
		return Result{}, fmt.Errorf("%w: public_key", ErrMissingField)
	}
	addr, err := identity.DeriveAddress(verified.Document.PublicKey)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrAddressMismatch, err)
	}
	if addr != params.ExpectedAddress {
		return Result{}, fmt.Errorf("%w: expected %x got %x", ErrAddressMismatch, params.ExpectedAddress, addr)
	}

	return Result{PublicKeySEC1: verified.Document.PublicKey, Address: addr}, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
