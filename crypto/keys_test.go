package crypto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateKeypairShape(t *testing.T) {
	kp, err := GenerateKeypair()
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(kp.Address, "0x"))
	require.Len(t, kp.Address, 42)
	require.Len(t, kp.PrivateKey, 64)

	// The address must round-trip through the decoder.
	addr, err := DecodeAddress(kp.Address)
	require.NoError(t, err)
	require.Equal(t, kp.Address, addr.String())
}

func TestKeypairDerivationConsistency(t *testing.T) {
	kp, err := GenerateKeypair()
	require.NoError(t, err)

	key, err := PrivateKeyFromHex(kp.PrivateKey)
	require.NoError(t, err)
	require.Equal(t, kp.Address, key.PubKey().Address().String())
}

func TestGenerateKeypairUnique(t *testing.T) {
	a, err := GenerateKeypair()
	require.NoError(t, err)
	b, err := GenerateKeypair()
	require.NoError(t, err)
	require.NotEqual(t, a.Address, b.Address)
	require.NotEqual(t, a.PrivateKey, b.PrivateKey)
}

func TestDecodeAddressRejectsMalformed(t *testing.T) {
	_, err := DecodeAddress("0x1234")
	require.Error(t, err)
	_, err = DecodeAddress("0x" + strings.Repeat("zz", 20))
	require.Error(t, err)
}
