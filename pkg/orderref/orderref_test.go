package orderref

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRoundTrip(t *testing.T) {
	ref, err := New("123456789", 20)
	require.NoError(t, err)
	assert.Len(t, ref.Nonce, 2*nonceBytes)

	got, err := Decode(ref.String())
	require.NoError(t, err)
	assert.Equal(t, ref, got)
	assert.Equal(t, "123456789", got.AccountKey)
	assert.Equal(t, int64(20), got.CreditCount)
}

func TestNewNoncesDiffer(t *testing.T) {
	a, err := New("U1", 50)
	require.NoError(t, err)
	b, err := New("U1", 50)
	require.NoError(t, err)
	assert.NotEqual(t, a.String(), b.String())
}

func TestDecode(t *testing.T) {
	ref, err := Decode("123456789_20_a1b2c3d4")
	require.NoError(t, err)
	assert.Equal(t, Reference{AccountKey: "123456789", CreditCount: 20, Nonce: "a1b2c3d4"}, ref)

	zero, err := Decode("U1_0_00")
	require.NoError(t, err)
	assert.Equal(t, int64(0), zero.CreditCount)
}

func TestDecodeMalformed(t *testing.T) {
	cases := map[string]string{
		"no separators":    "garbage",
		"two parts":        "123_20",
		"four parts":       "a_b_20_ff",
		"empty key":        "_20_ff",
		"empty count":      "123__ff",
		"empty nonce":      "123_20_",
		"negative count":   "123_-5_ff",
		"signed count":     "123_+5_ff",
		"non-numeric":      "123_abc_ff",
		"non-hex nonce":    "123_20_zz",
		"count overflow":   "123_99999999999999999999_ff",
		"empty string":     "",
		"only separators":  "__",
		"whitespace count": "123_ 2_ff",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(in)
			assert.ErrorIs(t, err, ErrMalformedReference)
		})
	}
}

func TestEncodeValidation(t *testing.T) {
	_, err := Encode("", 1, "ff")
	assert.ErrorIs(t, err, ErrInvalidAccountKey)

	_, err = Encode("a_b", 1, "ff")
	assert.ErrorIs(t, err, ErrInvalidAccountKey)

	_, err = Encode("abc", -1, "ff")
	assert.ErrorIs(t, err, ErrInvalidCount)

	_, err = Encode("abc", 1, "xyz")
	assert.ErrorIs(t, err, ErrMalformedReference)

	ref, err := Encode("abc", 130, "deadbeef")
	require.NoError(t, err)
	assert.Equal(t, "abc_130_deadbeef", ref.String())
}
