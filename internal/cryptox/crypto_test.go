package cryptox

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpen_RoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	plaintexts := [][]byte{
		[]byte(""),
		[]byte("a"),
		[]byte("hello, notesafe"),
		bytes.Repeat([]byte{0xAB}, 4096),
	}

	for _, plaintext := range plaintexts {
		blob, err := Seal(key, plaintext)
		require.NoError(t, err)

		got, err := Open(key, blob)
		require.NoError(t, err)
		assert.Equal(t, plaintext, got)
	}
}

func TestSeal_FreshNoncePerCall(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	a, err := Seal(key, []byte("same plaintext"))
	require.NoError(t, err)
	b, err := Seal(key, []byte("same plaintext"))
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestOpen_AnySingleBitFlipFails(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	blob, err := Seal(key, []byte("tamper me"))
	require.NoError(t, err)

	for i := 0; i < len(blob); i++ {
		for bit := 0; bit < 8; bit++ {
			tampered := make([]byte, len(blob))
			copy(tampered, blob)
			tampered[i] ^= 1 << bit

			_, err := Open(key, tampered)
			require.ErrorIs(t, err, ErrAuthenticationFailed,
				"flipping byte %d bit %d must fail authentication", i, bit)
		}
	}
}

func TestOpen_WrongKeyFails(t *testing.T) {
	key1, err := GenerateKey()
	require.NoError(t, err)
	key2, err := GenerateKey()
	require.NoError(t, err)

	blob, err := Seal(key1, []byte("secret"))
	require.NoError(t, err)

	_, err = Open(key2, blob)
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestOpen_TruncatedBlobFails(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	_, err = Open(key, []byte{0x01, 0x02})
	assert.ErrorIs(t, err, ErrAuthenticationFailed)
}

func TestDeriveMasterKey_Deterministic(t *testing.T) {
	salt, err := GenerateSalt()
	require.NoError(t, err)

	k1 := DeriveMasterKey([]byte("correct horse"), salt)
	k2 := DeriveMasterKey([]byte("correct horse"), salt)
	k3 := DeriveMasterKey([]byte("battery staple"), salt)

	assert.Len(t, k1, KeySize)
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
}

func TestMakeVerifier_DoesNotExposeKey(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	v := MakeVerifier(key)
	assert.Len(t, v, 32)
	assert.NotEqual(t, key, v)
	assert.Equal(t, v, MakeVerifier(key))
}
