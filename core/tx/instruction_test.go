package tx

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"tradesee/crypto"
	"tradesee/native/escrow"
)

func mustKey(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return key
}

func TestSignAndRecoverSender(t *testing.T) {
	key := mustKey(t)
	in, err := NewDeposit(3, [20]byte{0x11}, [20]byte{0x55}, 100)
	require.NoError(t, err)

	_, err = in.Sender()
	require.ErrorIs(t, err, ErrUnsigned)

	require.NoError(t, in.Sign(key))
	require.Len(t, in.Signature, crypto.SignatureLength)
	sender, err := in.Sender()
	require.NoError(t, err)
	require.Equal(t, key.PubKey().Address().Bytes(), sender)
}

func TestTamperedInstructionRecoversDifferentSender(t *testing.T) {
	key := mustKey(t)
	in := NewRelease(1, [20]byte{0x11})
	require.NoError(t, in.Sign(key))

	raw, err := in.Encode()
	require.NoError(t, err)
	decoded, err := Decode(raw)
	require.NoError(t, err)
	decoded.Nonce = 2
	sender, err := decoded.Sender()
	if err == nil {
		require.NotEqual(t, key.PubKey().Address().Bytes(), sender)
	}
}

func TestEncodeDecodeHex(t *testing.T) {
	key := mustKey(t)
	initializer := key.PubKey().Address().Bytes()
	in, err := NewInitialize(1, initializer, InitializePayload{
		ContractID:          [32]byte{0x01},
		Seller:              [20]byte{0x02},
		AmountExpected:      100_000_000,
		MilestonesTotal:     2,
		ExpiryTs:            1_700_000_000,
		AutoReleaseOnExpiry: true,
		Oracles:             [][20]byte{{0x03}},
	})
	require.NoError(t, err)
	require.Equal(t, escrow.DeriveContractAddress(initializer, [32]byte{0x01}), in.Contract)
	require.Equal(t, escrow.DeriveVaultAddress(in.Contract), in.Vault)

	_, err = in.EncodeHex()
	require.ErrorIs(t, err, ErrUnsigned)
	require.NoError(t, in.Sign(key))

	encoded, err := in.EncodeHex()
	require.NoError(t, err)
	decoded, err := DecodeHex(encoded)
	require.NoError(t, err)
	require.Equal(t, in.ID(), decoded.ID())

	sender, err := decoded.Sender()
	require.NoError(t, err)
	require.Equal(t, initializer, sender)

	var payload InitializePayload
	require.NoError(t, decoded.DecodePayload(&payload))
	params := payload.Params()
	require.Equal(t, uint64(100_000_000), params.AmountExpected)
	require.Equal(t, int64(1_700_000_000), params.ExpiryTs)
	require.True(t, params.AutoReleaseOnExpiry)
	require.Equal(t, [][20]byte{{0x03}}, params.Oracles)
}

func TestDecodeRejectsMalformed(t *testing.T) {
	_, err := DecodeHex("0xzz")
	require.True(t, errors.Is(err, ErrMalformedSigned))
	_, err = Decode([]byte{0x01, 0x02})
	require.True(t, errors.Is(err, ErrMalformedSigned))
}

func TestParseType(t *testing.T) {
	for typ, name := range typeNames {
		parsed, err := ParseType(name)
		require.NoError(t, err)
		require.Equal(t, typ, parsed)
		require.Equal(t, name, typ.String())
		require.True(t, typ.Valid())
	}
	_, err := ParseType("mint")
	require.Error(t, err)
	require.False(t, Type(0x7f).Valid())
}

func TestAnchorTrustCarriesNoContract(t *testing.T) {
	in, err := NewAnchorTrust(1, [20]byte{0x09}, 850)
	require.NoError(t, err)
	require.Equal(t, [20]byte{}, in.Contract)
	var payload AnchorTrustPayload
	require.NoError(t, in.DecodePayload(&payload))
	require.Equal(t, uint16(850), payload.Score)
}

func TestIDDistinguishesSigners(t *testing.T) {
	a, err := NewAnchorTrust(1, [20]byte{0x09}, 850)
	require.NoError(t, err)
	b, err := NewAnchorTrust(1, [20]byte{0x09}, 850)
	require.NoError(t, err)
	require.Empty(t, a.ID())

	require.NoError(t, a.Sign(mustKey(t)))
	require.NoError(t, b.Sign(mustKey(t)))
	digestA, err := a.Hash()
	require.NoError(t, err)
	digestB, err := b.Hash()
	require.NoError(t, err)
	require.Equal(t, digestA, digestB)
	require.NotEmpty(t, a.ID())
	require.NotEqual(t, a.ID(), b.ID())
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	in := NewRelease(1, [20]byte{0x11})
	require.NoError(t, in.Sign(mustKey(t)))
	raw, err := in.Encode()
	require.NoError(t, err)
	_, err = Decode(append(raw, 0x00))
	require.ErrorIs(t, err, ErrMalformedSigned)
}
