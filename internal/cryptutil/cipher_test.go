package cryptutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAEAD_RoundTrip(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	a, err := NewAEAD(key)
	require.NoError(t, err)

	const plaintext = "0xdeadbeef1234"
	ciphertext, err := a.EncryptHexString(plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, string(ciphertext))

	got, err := a.DecryptHexString(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestAEAD_WrongKeyFailsToDecrypt(t *testing.T) {
	key1, _ := GenerateKey()
	key2, _ := GenerateKey()
	a1, _ := NewAEAD(key1)
	a2, _ := NewAEAD(key2)

	ciphertext, err := a1.Encrypt([]byte("secret"))
	require.NoError(t, err)

	_, err = a2.Decrypt(ciphertext)
	assert.Error(t, err)
}

func TestNewAEAD_RejectsWrongKeySize(t *testing.T) {
	_, err := NewAEAD("dG9vc2hvcnQ=")
	assert.Error(t, err)
}
