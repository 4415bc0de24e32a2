package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecrypt(t *testing.T) {
	originalData := "This is a secret message"

	encrypted, err := encrypt([]byte(originalData))
	require.NoError(t, err)
	require.NotEmpty(t, encrypted)

	decrypted, err := decrypt(encrypted)
	require.NoError(t, err)
	assert.Equal(t, originalData, string(decrypted))
}

func TestDecryptRejectsShortCiphertext(t *testing.T) {
	_, err := decrypt("YWJj")
	assert.Error(t, err)
}

func TestVaultRoundTrip(t *testing.T) {
	v := NewVault(t.TempDir())

	_, err := v.Get("chat-store")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, v.Put("chat-store", []byte(`{"chats":[]}`)))
	got, err := v.Get("chat-store")
	require.NoError(t, err)
	assert.Equal(t, `{"chats":[]}`, string(got))

	require.NoError(t, v.Delete("chat-store"))
	require.NoError(t, v.Delete("chat-store"))
	_, err = v.Get("chat-store")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessionSaveLoadClear(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	original := Session{
		ServerURL: "wss://test.com/ws",
		UserID:    "user_1",
		UserName:  "testuser",
	}
	require.NoError(t, Save("work", original))

	restored := Load("work")
	require.NotNil(t, restored)
	assert.Equal(t, original, *restored)

	assert.Nil(t, Load("other"))

	Clear("work")
	assert.Nil(t, Load("work"))
}
