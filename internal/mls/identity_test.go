package mls

import "testing"

func TestGenerateIdentityProducesVerifiableKeyPackage(t *testing.T) {
	id, err := generateIdentity(42, "laptop")
	if err != nil {
		t.Fatalf("generateIdentity: %v", err)
	}
	if string(id.Credential) != "42:laptop" {
		t.Fatalf("credential = %q, want %q", id.Credential, "42:laptop")
	}

	kp, _, err := generateKeyPackage(id)
	if err != nil {
		t.Fatalf("generateKeyPackage: %v", err)
	}
	if err := kp.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestKeyPackageVerifyRejectsTamperedSignature(t *testing.T) {
	id, err := generateIdentity(1, "phone")
	if err != nil {
		t.Fatalf("generateIdentity: %v", err)
	}
	kp, _, err := generateKeyPackage(id)
	if err != nil {
		t.Fatalf("generateKeyPackage: %v", err)
	}
	kp.Signature[0] ^= 0xFF
	if err := kp.Verify(); err == nil {
		t.Fatal("expected tampered signature to fail verification")
	}
}

func TestEncodeDecodeKeyPackageRoundTrip(t *testing.T) {
	id, err := generateIdentity(7, "desktop")
	if err != nil {
		t.Fatalf("generateIdentity: %v", err)
	}
	kp, _, err := generateKeyPackage(id)
	if err != nil {
		t.Fatalf("generateKeyPackage: %v", err)
	}

	encoded := EncodeKeyPackage(kp)
	decoded, err := DecodeKeyPackage(encoded)
	if err != nil {
		t.Fatalf("DecodeKeyPackage: %v", err)
	}
	if decoded.DHPub != kp.DHPub {
		t.Fatal("decoded DH public key does not match original")
	}
	if string(decoded.Credential) != string(kp.Credential) {
		t.Fatal("decoded credential does not match original")
	}
}
