// Package attestation produces and verifies Nitro attestation documents: the
// producer half asks the platform security module (NSM) to bind the
// enclave's public key and a protocol version tag into a COSE-Sign1
// document; the verifier half checks that document's root of trust, PCR0
// measurement, version, and public-key-derived address offline.
package attestation

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/hf/nsm"
	"github.com/hf/nsm/request"
)

// ErrNSMUnavailable is returned when the platform security module cannot be
// reached (no /dev/nsm device, e.g. when running outside an enclave).
var ErrNSMUnavailable = errors.New("attestation: NSM device unavailable")

// Producer issues attestation documents binding a public key to the
// enclave's platform measurement.
type Producer interface {
	// Attest requests an attestation document whose public_key field is
	// pubKeySEC1. The document's user_data carries the little-endian u32
	// protocolVersion, so every attestation this system issues is
	// version-checkable.
	Attest(pubKeySEC1 []byte, protocolVersion uint32) ([]byte, error)
}

// NSMProducer is the production Producer backed by the real Nitro Secure
// Module device.
type NSMProducer struct{}

func (NSMProducer) Attest(pubKeySEC1 []byte, protocolVersion uint32) ([]byte, error) {
	sess, err := nsm.OpenDefaultSession()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNSMUnavailable, err)
	}
	defer sess.Close()

	var userData [4]byte
	binary.LittleEndian.PutUint32(userData[:], protocolVersion)

	res, err := sess.Send(&request.Attestation{
		UserData:  userData[:],
		PublicKey: pubKeySEC1,
	})
	if err != nil {
		return nil, fmt.Errorf("attestation: NSM attestation request failed: %w", err)
	}
	if res.Error != "" {
		return nil, fmt.Errorf("attestation: NSM returned an error: %s", res.Error)
	}
	if res.Attestation == nil || res.Attestation.Document == nil {
		return nil, fmt.Errorf("attestation: NSM did not return a document")
	}

	return res.Attestation.Document, nil
}
