package mls

import (
	"testing"

	"voxmedia/internal/storage"
)

func openTestDB(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestEngineGenerateIdentityRejectsSecondCall(t *testing.T) {
	e, err := Open(openTestDB(t), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := e.GenerateIdentity(1, "laptop"); err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	if _, err := e.GenerateIdentity(1, "laptop"); err == nil {
		t.Fatal("expected second GenerateIdentity to fail")
	}
}

func TestEngineCreateJoinEncryptDecryptRoundTrip(t *testing.T) {
	aliceEngine, err := Open(openTestDB(t), nil)
	if err != nil {
		t.Fatalf("Open(alice): %v", err)
	}
	if _, err := aliceEngine.GenerateIdentity(1, "alice-laptop"); err != nil {
		t.Fatalf("GenerateIdentity(alice): %v", err)
	}

	bobEngine, err := Open(openTestDB(t), nil)
	if err != nil {
		t.Fatalf("Open(bob): %v", err)
	}
	if _, err := bobEngine.GenerateIdentity(2, "bob-phone"); err != nil {
		t.Fatalf("GenerateIdentity(bob): %v", err)
	}
	bobKP, err := bobEngine.GenerateKeyPackage()
	if err != nil {
		t.Fatalf("GenerateKeyPackage(bob): %v", err)
	}

	welcome, _, err := aliceEngine.CreateGroup("room-1", [][]byte{bobKP})
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if welcome == nil {
		t.Fatal("expected non-nil welcome")
	}

	groupID, err := bobEngine.JoinGroup(welcome)
	if err != nil {
		t.Fatalf("JoinGroup: %v", err)
	}
	if groupID != "room-1" {
		t.Fatalf("groupID = %q, want %q", groupID, "room-1")
	}

	ciphertext, err := aliceEngine.Encrypt("room-1", []byte("hello"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	plaintext, err := bobEngine.Decrypt("room-1", ciphertext)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(plaintext) != "hello" {
		t.Fatalf("plaintext = %q, want %q", plaintext, "hello")
	}

	if !aliceEngine.GroupExists("room-1") {
		t.Fatal("expected room-1 to exist for alice")
	}
	groups, err := bobEngine.ListGroups()
	if err != nil {
		t.Fatalf("ListGroups: %v", err)
	}
	if len(groups) != 1 || groups[0] != "room-1" {
		t.Fatalf("ListGroups = %v, want [room-1]", groups)
	}
}

func TestEngineExportImportStateRoundTrip(t *testing.T) {
	db := openTestDB(t)
	e, err := Open(db, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	identityKey, err := e.GenerateIdentity(9, "tablet")
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	if _, _, err := e.CreateGroup("solo-room", nil); err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}

	backup, err := e.ExportState()
	if err != nil {
		t.Fatalf("ExportState: %v", err)
	}

	db2 := openTestDB(t)
	e2, err := Open(db2, nil)
	if err != nil {
		t.Fatalf("Open(restore): %v", err)
	}
	if err := e2.ImportState(backup); err != nil {
		t.Fatalf("ImportState: %v", err)
	}
	if got := e2.IdentityKey(); string(got) != string(identityKey) {
		t.Fatal("restored identity key does not match original")
	}
	if !e2.GroupExists("solo-room") {
		t.Fatal("expected solo-room to survive export/import")
	}
}

func TestEngineExportImportIdentityRoundTrip(t *testing.T) {
	e, err := Open(openTestDB(t), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	identityKey, err := e.GenerateIdentity(5, "old-device")
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	backup, err := e.ExportIdentity()
	if err != nil {
		t.Fatalf("ExportIdentity: %v", err)
	}

	e2, err := Open(openTestDB(t), nil)
	if err != nil {
		t.Fatalf("Open(new device): %v", err)
	}
	if err := e2.ImportIdentity(backup, 5, "new-device"); err != nil {
		t.Fatalf("ImportIdentity: %v", err)
	}
	if got := e2.IdentityKey(); string(got) != string(identityKey) {
		t.Fatal("imported identity signing key does not match original")
	}
}

func TestEngineEncryptionKeyProtectsIdentityAtRest(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	db := openTestDB(t)
	e, err := Open(db, key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := e.GenerateIdentity(3, "phone"); err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	if e.IdentityKey() == nil {
		t.Fatal("expected identity key to be set")
	}

	var rawSig string
	row := db.QueryRow(`SELECT signature_key_pair FROM vox_identity WHERE id = 1`)
	if err := row.Scan(&rawSig); err != nil {
		t.Fatalf("scan raw signature_key_pair: %v", err)
	}
	if len(rawSig) < 7 || rawSig[:7] != "enc:v1:" {
		t.Fatalf("signature_key_pair not stored under enc:v1 envelope: %q", rawSig)
	}
}
