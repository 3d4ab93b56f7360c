package cryptobox

import (
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeKey(t *testing.T, dir, name string) {
	t.Helper()
	var secret [KeySize]byte
	_, err := rand.Read(secret[:])
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".key_secret"), secret[:], 0o600))
}

func TestLoadKeyPairDerivesPublicKey(t *testing.T) {
	dir := t.TempDir()
	writeKey(t, dir, "server")

	kp, err := LoadKeyPair(dir, "server")
	require.NoError(t, err)
	require.NotEqual(t, [KeySize]byte{}, kp.Public)
}

func TestLoadPeerPublicKeyReadsFirst32Bytes(t *testing.T) {
	dir := t.TempDir()
	material := make([]byte, KeySize+16) // trailing bytes beyond the key are ignored
	_, err := rand.Read(material)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "server.key_secret"), material, 0o600))

	pub, err := LoadPeerPublicKey(dir, "server")
	require.NoError(t, err)
	require.Equal(t, material[:KeySize], pub[:])
}

func TestLoadPeerPublicKeyRejectsShortFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "server.key_secret"), []byte("short"), 0o600))

	_, err := LoadPeerPublicKey(dir, "server")
	require.Error(t, err)
}

func TestSealOpenRoundTrip(t *testing.T) {
	dir := t.TempDir()
	writeKey(t, dir, "server")
	writeKey(t, dir, "client")

	server, err := LoadKeyPair(dir, "server")
	require.NoError(t, err)
	client, err := LoadKeyPair(dir, "client")
	require.NoError(t, err)

	message := []byte("hello worker")
	sealed, err := Seal(message, &server.Public, &client.Private)
	require.NoError(t, err)

	opened, err := Open(sealed, &client.Public, &server.Private)
	require.NoError(t, err)
	require.Equal(t, message, opened)
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	dir := t.TempDir()
	writeKey(t, dir, "server")
	writeKey(t, dir, "client")

	server, err := LoadKeyPair(dir, "server")
	require.NoError(t, err)
	client, err := LoadKeyPair(dir, "client")
	require.NoError(t, err)

	sealed, err := Seal([]byte("hello"), &server.Public, &client.Private)
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0xFF

	_, err = Open(sealed, &client.Public, &server.Private)
	require.Error(t, err)
}
