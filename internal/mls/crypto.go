package mls

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// aes128KeySize matches the ciphersuite's AES128GCM half.
const aes128KeySize = 16

// hkdfExpand derives n bytes of key material from secret using HKDF-SHA256
// (no extract step: the inputs here are already uniformly random DH/epoch
// secrets), matching the ciphersuite's "...SHA256..." component.
func hkdfExpand(secret []byte, info string, n int) ([]byte, error) {
	r := hkdf.Expand(sha256.New, secret, []byte(info))
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("mls: hkdf expand: %w", err)
	}
	return out, nil
}

func newAESGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("mls: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, 12)
	if err != nil {
		return nil, fmt.Errorf("mls: aes-gcm: %w", err)
	}
	return gcm, nil
}

// wrapSecret seals secret for a recipient's DHKEM init key: fresh ephemeral
// X25519 keypair, ECDH against recipientPub, HKDF to an AES-128 key, AES-GCM
// seal. This is the DHKEMX25519 half of the ciphersuite applied directly to
// Welcome-style secret distribution.
func wrapSecret(recipientPub [32]byte, secret []byte) (ephemeralPub [32]byte, nonce [12]byte, ciphertext []byte, err error) {
	var ephPriv [32]byte
	if _, err = rand.Read(ephPriv[:]); err != nil {
		return ephemeralPub, nonce, nil, fmt.Errorf("mls: ephemeral key: %w", err)
	}
	pub, err := curve25519.X25519(ephPriv[:], curve25519.Basepoint)
	if err != nil {
		return ephemeralPub, nonce, nil, fmt.Errorf("mls: ephemeral public key: %w", err)
	}
	copy(ephemeralPub[:], pub)

	shared, err := curve25519.X25519(ephPriv[:], recipientPub[:])
	if err != nil {
		return ephemeralPub, nonce, nil, fmt.Errorf("mls: dhkem agreement: %w", err)
	}
	key, err := hkdfExpand(shared, "vox-mls welcome wrap", aes128KeySize)
	if err != nil {
		return ephemeralPub, nonce, nil, err
	}
	gcm, err := newAESGCM(key)
	if err != nil {
		return ephemeralPub, nonce, nil, err
	}
	if _, err = rand.Read(nonce[:]); err != nil {
		return ephemeralPub, nonce, nil, fmt.Errorf("mls: wrap nonce: %w", err)
	}
	ciphertext = gcm.Seal(nil, nonce[:], secret, nil)
	return ephemeralPub, nonce, ciphertext, nil
}

// unwrapSecret reverses wrapSecret given the recipient's own DHKEM private
// key.
func unwrapSecret(recipientPriv [32]byte, ephemeralPub [32]byte, nonce [12]byte, ciphertext []byte) ([]byte, error) {
	shared, err := curve25519.X25519(recipientPriv[:], ephemeralPub[:])
	if err != nil {
		return nil, fmt.Errorf("mls: dhkem agreement: %w", err)
	}
	key, err := hkdfExpand(shared, "vox-mls welcome wrap", aes128KeySize)
	if err != nil {
		return nil, err
	}
	gcm, err := newAESGCM(key)
	if err != nil {
		return nil, err
	}
	secret, err := gcm.Open(nil, nonce[:], ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("mls: unwrap secret: %w", err)
	}
	return secret, nil
}

// nextEpochSecret ratchets the group's epoch secret forward given a fresh
// random commit nonce, the sole input a Commit message needs to carry for
// every existing member to derive the same new secret.
func nextEpochSecret(oldSecret []byte, ratchetNonce [12]byte) ([]byte, error) {
	return hkdfExpand(append(append([]byte(nil), oldSecret...), ratchetNonce[:]...), "vox-mls epoch ratchet", 32)
}

// epochMessageKey derives the AES-128-GCM key used to encrypt/decrypt
// application messages within one epoch.
func epochMessageKey(epochSecret []byte) ([]byte, error) {
	return hkdfExpand(epochSecret, "vox-mls application key", aes128KeySize)
}
