package identity

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveAddressMatchesGoEthereum(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	sec1 := crypto.FromECDSAPub(&key.PublicKey)
	want := crypto.PubkeyToAddress(key.PublicKey)

	got, err := DeriveAddress(sec1)
	require.NoError(t, err)
	assert.Equal(t, want.Bytes(), got[:])
}

func TestDeriveAddressRejectsBadEncodings(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	compressed := crypto.CompressPubkey(&key.PublicKey)
	_, err = DeriveAddress(compressed)
	assert.ErrorIs(t, err, ErrBadEncoding)

	_, err = DeriveAddress([]byte{0x04, 0x01, 0x02})
	assert.ErrorIs(t, err, ErrBadEncoding)

	_, err = DeriveAddress(nil)
	assert.ErrorIs(t, err, ErrBadEncoding)
}

func TestIdentityAddressConsistentWithPublicKey(t *testing.T) {
	id, err := New()
	require.NoError(t, err)

	addr, err := DeriveAddress(id.PublicKeySEC1())
	require.NoError(t, err)
	assert.Equal(t, addr, id.Address())
}
