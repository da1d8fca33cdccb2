package cryptox

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCipher(t *testing.T) *TokenCipher {
	t.Helper()
	c, err := NewTokenCipherFromPassphrase("correct horse battery staple")
	require.NoError(t, err)
	return c
}

func TestSealOpen_RoundTrip(t *testing.T) {
	c := newCipher(t)
	aad := []byte("conn-1")

	sealed, err := c.Seal("ya29.access-token", aad)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(sealed, []byte("ya29")), "plaintext must not leak")

	got, err := c.Open(sealed, aad)
	require.NoError(t, err)
	assert.Equal(t, "ya29.access-token", got)
}

func TestSeal_UsesFreshNonce(t *testing.T) {
	c := newCipher(t)
	a, err := c.Seal("same", nil)
	require.NoError(t, err)
	b, err := c.Seal("same", nil)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestOpen_WrongAssociatedDataFails(t *testing.T) {
	c := newCipher(t)
	sealed, err := c.Seal("secret", []byte("conn-1"))
	require.NoError(t, err)

	_, err = c.Open(sealed, []byte("conn-2"))
	assert.Error(t, err)
}

func TestOpen_TamperedFails(t *testing.T) {
	c := newCipher(t)
	sealed, err := c.Seal("secret", nil)
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0xff

	_, err = c.Open(sealed, nil)
	assert.Error(t, err)
}

func TestOpen_ShortAndEmpty(t *testing.T) {
	c := newCipher(t)

	_, err := c.Open([]byte{1, 2, 3}, nil)
	assert.ErrorIs(t, err, ErrCiphertextTooShort)

	got, err := c.Open(nil, nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	sealed, err := c.Seal("", nil)
	require.NoError(t, err)
	assert.Nil(t, sealed)
}

func TestDeriveKey_Deterministic(t *testing.T) {
	assert.Equal(t, DeriveKey([]byte("p")), DeriveKey([]byte("p")))
	assert.Len(t, DeriveKey([]byte("p")), 32)
	assert.NotEqual(t, DeriveKey([]byte("p")), DeriveKey([]byte("q")))
}

func TestNewTokenCipher_BadKey(t *testing.T) {
	_, err := NewTokenCipher([]byte("short"))
	assert.Error(t, err)
}
