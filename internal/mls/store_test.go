package mls

import (
	"testing"

	"voxmedia/internal/storage"
)

func TestStoreSaveLoadIdentityRoundTrip(t *testing.T) {
	db, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer db.Close()

	s, err := newStore(db, nil)
	if err != nil {
		t.Fatalf("newStore: %v", err)
	}

	if existing, err := s.loadIdentity(); err != nil || existing != nil {
		t.Fatalf("loadIdentity on empty store = (%v, %v), want (nil, nil)", existing, err)
	}

	id, err := generateIdentity(11, "desk")
	if err != nil {
		t.Fatalf("generateIdentity: %v", err)
	}
	if err := s.saveIdentity(id); err != nil {
		t.Fatalf("saveIdentity: %v", err)
	}

	loaded, err := s.loadIdentity()
	if err != nil {
		t.Fatalf("loadIdentity: %v", err)
	}
	if loaded == nil {
		t.Fatal("loadIdentity returned nil after save")
	}
	if loaded.DHPub != id.DHPub || loaded.DHPriv != id.DHPriv {
		t.Fatal("loaded DH keypair does not match saved identity")
	}
	if string(loaded.SigPriv) != string(id.SigPriv) {
		t.Fatal("loaded signing private key does not match saved identity")
	}
}

func TestStoreSaveIdentityWithEncryptionKey(t *testing.T) {
	db, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer db.Close()

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(2 * i)
	}
	s, err := newStore(db, key)
	if err != nil {
		t.Fatalf("newStore: %v", err)
	}
	id, err := generateIdentity(12, "vault")
	if err != nil {
		t.Fatalf("generateIdentity: %v", err)
	}
	if err := s.saveIdentity(id); err != nil {
		t.Fatalf("saveIdentity: %v", err)
	}

	var rawSig string
	row := db.QueryRow(`SELECT signature_key_pair FROM vox_identity WHERE id = 1`)
	if err := row.Scan(&rawSig); err != nil {
		t.Fatalf("scan raw signature_key_pair: %v", err)
	}
	if len(rawSig) < 7 || rawSig[:7] != "enc:v1:" {
		t.Fatalf("signature_key_pair not stored under enc:v1 envelope: %q", rawSig)
	}

	loaded, err := s.loadIdentity()
	if err != nil {
		t.Fatalf("loadIdentity: %v", err)
	}
	if string(loaded.SigPriv) != string(id.SigPriv) {
		t.Fatal("loaded signing private key does not match after encrypted round trip")
	}
}

func TestStoreFindKeyPackagePriv(t *testing.T) {
	db, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer db.Close()
	s, err := newStore(db, nil)
	if err != nil {
		t.Fatalf("newStore: %v", err)
	}

	id, err := generateIdentity(1, "dev")
	if err != nil {
		t.Fatalf("generateIdentity: %v", err)
	}
	kp, priv, err := generateKeyPackage(id)
	if err != nil {
		t.Fatalf("generateKeyPackage: %v", err)
	}
	if err := s.saveKeyPackagePriv(kp.DHPub, priv); err != nil {
		t.Fatalf("saveKeyPackagePriv: %v", err)
	}

	candidates := []memberInfo{
		{Credential: []byte("someone-else"), DHPub: [32]byte{1, 2, 3}},
		{Credential: kp.Credential, SigPub: kp.SigPub, DHPub: kp.DHPub},
	}
	dhPub, dhPriv, found, err := s.findKeyPackagePriv(candidates)
	if err != nil {
		t.Fatalf("findKeyPackagePriv: %v", err)
	}
	if !found {
		t.Fatal("expected to find matching key package")
	}
	if dhPub != kp.DHPub || dhPriv != priv {
		t.Fatal("findKeyPackagePriv returned mismatched keys")
	}
}

func TestStoreGroupPersistence(t *testing.T) {
	db, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer db.Close()
	s, err := newStore(db, nil)
	if err != nil {
		t.Fatalf("newStore: %v", err)
	}

	id, err := generateIdentity(1, "dev")
	if err != nil {
		t.Fatalf("generateIdentity: %v", err)
	}
	g, _, _, err := createGroup(id, "persisted-room", nil)
	if err != nil {
		t.Fatalf("createGroup: %v", err)
	}
	if err := s.saveGroup(g); err != nil {
		t.Fatalf("saveGroup: %v", err)
	}

	exists, err := s.groupExists("persisted-room")
	if err != nil || !exists {
		t.Fatalf("groupExists = (%v, %v), want (true, nil)", exists, err)
	}

	loaded, err := s.loadGroup("persisted-room")
	if err != nil {
		t.Fatalf("loadGroup: %v", err)
	}
	if loaded.Epoch != g.Epoch || string(loaded.EpochSecret) != string(g.EpochSecret) {
		t.Fatal("loaded group does not match saved group")
	}
	if len(loaded.Members) != 1 {
		t.Fatalf("loaded group has %d members, want 1", len(loaded.Members))
	}

	ids, err := s.listGroups()
	if err != nil {
		t.Fatalf("listGroups: %v", err)
	}
	if len(ids) != 1 || ids[0] != "persisted-room" {
		t.Fatalf("listGroups = %v, want [persisted-room]", ids)
	}
}
