package mls

import (
	"bytes"
	"testing"
)

func mustIdentity(t *testing.T, userID uint64, deviceID string) *Identity {
	t.Helper()
	id, err := generateIdentity(userID, deviceID)
	if err != nil {
		t.Fatalf("generateIdentity: %v", err)
	}
	return id
}

// TestGroupRoundTrip covers Alice creating a group with Bob's key package,
// Bob joining from the welcome, Alice sending an application message, and
// Bob decrypting it back to the original plaintext.
func TestGroupRoundTrip(t *testing.T) {
	alice := mustIdentity(t, 1, "alice-laptop")
	bob := mustIdentity(t, 2, "bob-phone")

	bobKP, bobInitPriv, err := generateKeyPackage(bob)
	if err != nil {
		t.Fatalf("generateKeyPackage(bob): %v", err)
	}

	aliceGroup, welcome, commit, err := createGroup(alice, "room-1", []*KeyPackage{bobKP})
	if err != nil {
		t.Fatalf("createGroup: %v", err)
	}
	if welcome == nil || commit == nil {
		t.Fatal("expected welcome and commit for non-empty initial members")
	}
	if len(aliceGroup.Members) != 2 {
		t.Fatalf("alice group has %d members, want 2", len(aliceGroup.Members))
	}

	bobGroup, err := joinGroup(welcome, bobKP.DHPub, bobInitPriv)
	if err != nil {
		t.Fatalf("joinGroup: %v", err)
	}
	if !bytes.Equal(bobGroup.EpochSecret, aliceGroup.EpochSecret) {
		t.Fatal("bob's epoch secret does not match alice's")
	}

	ciphertext, err := encryptApplication(alice, aliceGroup, []byte("hello"))
	if err != nil {
		t.Fatalf("encryptApplication: %v", err)
	}

	kind, msg, err := decodeGroupMessage(ciphertext)
	if err != nil {
		t.Fatalf("decodeGroupMessage: %v", err)
	}
	if kind != kindApplication {
		t.Fatalf("kind = %d, want kindApplication", kind)
	}
	plaintext, err := decryptApplication(bobGroup, msg.(*applicationMessage))
	if err != nil {
		t.Fatalf("decryptApplication: %v", err)
	}
	if string(plaintext) != "hello" {
		t.Fatalf("plaintext = %q, want %q", plaintext, "hello")
	}
}

func TestAddMemberRatchetsEpochForExistingMembers(t *testing.T) {
	alice := mustIdentity(t, 1, "alice")
	bob := mustIdentity(t, 2, "bob")
	carol := mustIdentity(t, 3, "carol")

	bobKP, bobInitPriv, err := generateKeyPackage(bob)
	if err != nil {
		t.Fatalf("generateKeyPackage(bob): %v", err)
	}
	aliceGroup, welcome, _, err := createGroup(alice, "room-2", []*KeyPackage{bobKP})
	if err != nil {
		t.Fatalf("createGroup: %v", err)
	}
	bobGroup, err := joinGroup(welcome, bobKP.DHPub, bobInitPriv)
	if err != nil {
		t.Fatalf("joinGroup: %v", err)
	}

	carolKP, carolInitPriv, err := generateKeyPackage(carol)
	if err != nil {
		t.Fatalf("generateKeyPackage(carol): %v", err)
	}
	carolWelcome, commit, err := addMember(aliceGroup, carolKP)
	if err != nil {
		t.Fatalf("addMember: %v", err)
	}

	if err := applyCommit(bobGroup, commit); err != nil {
		t.Fatalf("applyCommit(bob): %v", err)
	}
	if !bytes.Equal(bobGroup.EpochSecret, aliceGroup.EpochSecret) {
		t.Fatal("bob's epoch secret did not ratchet in sync with alice's")
	}
	if len(bobGroup.Members) != 3 {
		t.Fatalf("bob's membership has %d entries, want 3", len(bobGroup.Members))
	}

	carolGroup, err := joinGroup(carolWelcome, carolKP.DHPub, carolInitPriv)
	if err != nil {
		t.Fatalf("joinGroup(carol): %v", err)
	}
	if !bytes.Equal(carolGroup.EpochSecret, aliceGroup.EpochSecret) {
		t.Fatal("carol's epoch secret does not match alice's after add_member")
	}
}

func TestRemoveMemberRejectsRemovingSelf(t *testing.T) {
	alice := mustIdentity(t, 1, "alice")
	bob := mustIdentity(t, 2, "bob")
	bobKP, _, err := generateKeyPackage(bob)
	if err != nil {
		t.Fatalf("generateKeyPackage: %v", err)
	}
	aliceGroup, _, _, err := createGroup(alice, "room-3", []*KeyPackage{bobKP})
	if err != nil {
		t.Fatalf("createGroup: %v", err)
	}
	if _, err := removeMember(aliceGroup, aliceGroup.MyIndex); err == nil {
		t.Fatal("expected removing own membership to fail")
	}
}

func TestCreateGroupWithNoMembersReturnsNoWelcome(t *testing.T) {
	alice := mustIdentity(t, 1, "alice")
	g, welcome, commit, err := createGroup(alice, "solo-room", nil)
	if err != nil {
		t.Fatalf("createGroup: %v", err)
	}
	if welcome != nil || commit != nil {
		t.Fatal("expected nil welcome/commit for empty initial members")
	}
	if len(g.Members) != 1 {
		t.Fatalf("solo group has %d members, want 1", len(g.Members))
	}
}
