package xcrypto

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIGERoundTrip(t *testing.T) {
	key := make([]byte, 32)
	iv := make([]byte, 32)
	plaintext := make([]byte, 16*4)
	for _, b := range [][]byte{key, iv, plaintext} {
		_, err := rand.Read(b)
		require.NoError(t, err)
	}

	ct, err := IGEEncrypt(key, iv, plaintext)
	require.NoError(t, err)
	require.Len(t, ct, len(plaintext))

	pt, err := IGEDecrypt(key, iv, ct)
	require.NoError(t, err)
	require.True(t, bytes.Equal(plaintext, pt))
}

func TestIGERejectsUnalignedInput(t *testing.T) {
	key := make([]byte, 32)
	iv := make([]byte, 32)
	_, err := IGEEncrypt(key, iv, make([]byte, 15))
	require.ErrorIs(t, err, ErrBadIGEInput)
}

func TestDeriveKeyIVDeterministic(t *testing.T) {
	authKey := make([]byte, 256)
	for i := range authKey {
		authKey[i] = byte(i)
	}
	msgKey, err := ComputeMsgKey(authKey, []byte("hello world"), MsgKeyOffsetOutbound)
	require.NoError(t, err)

	k1, iv1, err := DeriveKeyIV(authKey, msgKey, MsgKeyOffsetOutbound)
	require.NoError(t, err)
	k2, iv2, err := DeriveKeyIV(authKey, msgKey, MsgKeyOffsetOutbound)
	require.NoError(t, err)
	require.Equal(t, k1, k2)
	require.Equal(t, iv1, iv2)

	k3, _, err := DeriveKeyIV(authKey, msgKey, MsgKeyOffsetInbound)
	require.NoError(t, err)
	require.NotEqual(t, k1, k3)
}
