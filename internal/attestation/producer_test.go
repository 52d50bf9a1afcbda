package attestation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestAttestWithoutNSMDeviceFails runs everywhere outside a real Nitro
// enclave (including CI), where /dev/nsm does not exist: NSMProducer must
// surface that as ErrNSMUnavailable rather than panicking.
func TestAttestWithoutNSMDeviceFails(t *testing.T) {
	_, err := NSMProducer{}.Attest([]byte("pub"), 1)
	assert.Error(t, err)
	assert.True(t, errors.Is(err, ErrNSMUnavailable))
}
