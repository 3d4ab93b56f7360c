// Package cryptobox wraps NaCl crypto_box (curve25519-xsalsa20-poly1305)
// public-key authenticated encryption used to secure request, control, and
// results frames.
package cryptobox

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// KeySize is the curve25519 key length crypto_box operates on.
const KeySize = 32

// KeyPair is one curve25519 key pair.
type KeyPair struct {
	Public  [KeySize]byte
	Private [KeySize]byte
}

// LoadKeyPair reads the worker's own private key from
// <keysPath>/<name>.key_secret and derives the matching public key.
// The file's first 32 bytes are taken as key material, matching the
// fixed-width secret layout the platform's key-provisioning tooling writes.
func LoadKeyPair(keysPath, name string) (*KeyPair, error) {
	raw, err := os.ReadFile(filepath.Join(keysPath, name+".key_secret"))
	if err != nil {
		return nil, fmt.Errorf("cryptobox: read %s key: %w", name, err)
	}
	if len(raw) < KeySize {
		return nil, fmt.Errorf("cryptobox: %s key_secret too short: %d bytes", name, len(raw))
	}

	var kp KeyPair
	copy(kp.Private[:], raw[:KeySize])
	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("cryptobox: derive %s public key: %w", name, err)
	}
	copy(kp.Public[:], pub)
	return &kp, nil
}

// LoadPeerPublicKey reads a peer's public key half from
// <keysPath>/<name>.key_secret. A worker is provisioned with two key files:
// its own (client.key_secret, full key material) and the server's
// (server.key_secret, whose first 32 bytes on the worker's copy are the
// public half). Both use the same fixed-width layout.
func LoadPeerPublicKey(keysPath, name string) (*[KeySize]byte, error) {
	raw, err := os.ReadFile(filepath.Join(keysPath, name+".key_secret"))
	if err != nil {
		return nil, fmt.Errorf("cryptobox: read %s public key: %w", name, err)
	}
	if len(raw) < KeySize {
		return nil, fmt.Errorf("cryptobox: %s key_secret too short: %d bytes", name, len(raw))
	}
	var pub [KeySize]byte
	copy(pub[:], raw[:KeySize])
	return &pub, nil
}

// Seal encrypts message for peerPublic, authenticated under our private key.
func Seal(message []byte, peerPublic, ourPrivate *[KeySize]byte) ([]byte, error) {
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("cryptobox: generate nonce: %w", err)
	}
	return box.Seal(nonce[:], message, &nonce, peerPublic, ourPrivate), nil
}

// Open decrypts and authenticates a Seal'd message from peerPublic.
func Open(sealed []byte, peerPublic, ourPrivate *[KeySize]byte) ([]byte, error) {
	if len(sealed) < 24 {
		return nil, fmt.Errorf("cryptobox: sealed payload too short: %d bytes", len(sealed))
	}
	var nonce [24]byte
	copy(nonce[:], sealed[:24])

	out, ok := box.Open(nil, sealed[24:], &nonce, peerPublic, ourPrivate)
	if !ok {
		return nil, fmt.Errorf("cryptobox: open failed: authentication mismatch")
	}
	return out, nil
}
