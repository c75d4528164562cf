// Package mls implements the local identity and multi-group key agreement
// engine (C7): one signing identity plus many persisted groups, using the
// MLS_128_DHKEMX25519_AES128GCM_SHA256_Ed25519 ciphersuite's primitives
// (X25519 DHKEM member agreement, HKDF-SHA256 epoch ratcheting, AES-128-GCM
// message encryption, Ed25519 signing) composed directly rather than
// through a full RFC 9420 TreeKEM ratchet tree implementation.
package mls

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/curve25519"

	"voxmedia/internal/util"
)

// CipherSuiteName names the ciphersuite per spec.md §4.7.
const CipherSuiteName = "MLS_128_DHKEMX25519_AES128GCM_SHA256_Ed25519"

// Identity is one user/device's MLS credential and key material. DHPub/
// DHPriv is the identity's own leaf encryption keypair, used only to
// populate this member's own membership entry (a creator already holds
// its group's epoch secret directly and never needs to DH-unwrap it).
type Identity struct {
	UserID     uint64
	DeviceID   string
	Credential []byte // UTF-8 "{user_id}:{device_id}"
	SigPub     ed25519.PublicKey
	SigPriv    ed25519.PrivateKey
	DHPub      [32]byte
	DHPriv     [32]byte
}

// generateIdentity builds a fresh credential, Ed25519 signing keypair, and
// leaf X25519 keypair, per spec.md §4.7 "generate_identity".
func generateIdentity(userID uint64, deviceID string) (*Identity, error) {
	deviceID, err := util.ValidateDisplayName(deviceID)
	if err != nil {
		return nil, fmt.Errorf("mls: device id: %w", err)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("mls: generate signing keys: %w", err)
	}
	var dhPriv [32]byte
	if _, err := rand.Read(dhPriv[:]); err != nil {
		return nil, fmt.Errorf("mls: generate leaf encryption key: %w", err)
	}
	dhPubBytes, err := curve25519.X25519(dhPriv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("mls: derive leaf public key: %w", err)
	}
	var dhPub [32]byte
	copy(dhPub[:], dhPubBytes)

	return &Identity{
		UserID:     userID,
		DeviceID:   deviceID,
		Credential: []byte(fmt.Sprintf("%d:%s", userID, deviceID)),
		SigPub:     pub,
		SigPriv:    priv,
		DHPub:      dhPub,
		DHPriv:     dhPriv,
	}, nil
}

// KeyPackage is a signed bundle of a member's public key material,
// distributed out of band so others can add them to a group.
type KeyPackage struct {
	Credential []byte
	SigPub     ed25519.PublicKey
	DHPub      [32]byte
	Signature  []byte
}

// generateKeyPackage builds a new KeyPackage under id, with a fresh X25519
// "init key" whose private half is returned alongside so the caller can
// retain it for later Welcome decryption, per spec.md §4.7
// "generate_key_package[s]".
func generateKeyPackage(id *Identity) (*KeyPackage, [32]byte, error) {
	var dhPriv [32]byte
	if _, err := rand.Read(dhPriv[:]); err != nil {
		return nil, dhPriv, fmt.Errorf("mls: generate init key: %w", err)
	}
	var dhPub [32]byte
	pub, err := curve25519.X25519(dhPriv[:], curve25519.Basepoint)
	if err != nil {
		return nil, dhPriv, fmt.Errorf("mls: derive init public key: %w", err)
	}
	copy(dhPub[:], pub)

	kp := &KeyPackage{
		Credential: append([]byte(nil), id.Credential...),
		SigPub:     append(ed25519.PublicKey(nil), id.SigPub...),
		DHPub:      dhPub,
	}
	kp.Signature = ed25519.Sign(id.SigPriv, kp.signedContent())
	return kp, dhPriv, nil
}

// signedContent is the byte string the KeyPackage's signature covers.
func (kp *KeyPackage) signedContent() []byte {
	buf := make([]byte, 0, len(kp.Credential)+len(kp.SigPub)+32)
	buf = append(buf, kp.Credential...)
	buf = append(buf, kp.SigPub...)
	buf = append(buf, kp.DHPub[:]...)
	return buf
}

// Verify checks the KeyPackage's self-signature.
func (kp *KeyPackage) Verify() error {
	if !ed25519.Verify(kp.SigPub, kp.signedContent(), kp.Signature) {
		return fmt.Errorf("mls: key package signature invalid")
	}
	return nil
}
