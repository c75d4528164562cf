package mls

import (
	"bytes"
	"crypto/ed25519"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"voxmedia/internal/storage"
)

// store is the SQLite-backed persistence layer for one engine's identity,
// key-package, and group state, per spec.md §4.7 "Schema additions". It
// talks to the shared storage.DB type directly with hand-written schema
// rather than storage.DB's generic CreateTable/Insert helpers, since this
// schema is fixed and keyed in ways the generic per-row _owner/_id model
// doesn't fit (a singleton identity row, DH-public-key-keyed key packages).
type store struct {
	db            *storage.DB
	encryptionKey []byte // optional; nil means store signature keys in plaintext
}

func newStore(db *storage.DB, encryptionKey []byte) (*store, error) {
	s := &store{db: db, encryptionKey: encryptionKey}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS vox_identity (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			user_id INTEGER NOT NULL,
			device_id TEXT NOT NULL,
			credential_with_key TEXT NOT NULL,
			signature_key_pair TEXT NOT NULL,
			dh_key_pair TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS vox_groups (
			group_id TEXT PRIMARY KEY,
			epoch INTEGER NOT NULL,
			epoch_secret BLOB NOT NULL,
			my_index INTEGER NOT NULL,
			members BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS vox_keypackages (
			dh_pub TEXT PRIMARY KEY,
			dh_priv BLOB NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("mls: create schema: %w", err)
		}
	}
	return nil
}

// identityRecord is the JSON payload persisted for import_identity/
// export_identity and the vox_identity row's credential_with_key column.
type identityRecord struct {
	UserID     uint64            `json:"user_id"`
	DeviceID   string            `json:"device_id"`
	Credential []byte            `json:"credential"`
	SigPub     ed25519.PublicKey `json:"sig_pub"`
	DHPub      []byte            `json:"dh_pub"`
}

type exportedIdentity struct {
	SignatureKeys     ed25519.PrivateKey `json:"signature_keys"`
	CredentialWithKey identityRecord     `json:"credential_with_key"`
	DHPriv            []byte             `json:"dh_priv"`
}

// encodeExportedIdentity serializes id for export_identity, carrying the
// credential plus both private keys so the identity can be fully restored
// on another device, per spec.md §4.7 "export_identity".
func encodeExportedIdentity(id *Identity) ([]byte, error) {
	ei := exportedIdentity{
		SignatureKeys: id.SigPriv,
		CredentialWithKey: identityRecord{
			UserID: id.UserID, DeviceID: id.DeviceID, Credential: id.Credential,
			SigPub: id.SigPub, DHPub: id.DHPub[:],
		},
		DHPriv: id.DHPriv[:],
	}
	data, err := json.Marshal(ei)
	if err != nil {
		return nil, fmt.Errorf("mls: marshal exported identity: %w", err)
	}
	return data, nil
}

// decodeExportedIdentity parses data back into an Identity. userID/deviceID
// override whatever the export carries, since import_identity is typically
// used to move an identity to a new device registration.
func decodeExportedIdentity(data []byte, userID uint64, deviceID string) (*Identity, error) {
	var ei exportedIdentity
	if err := json.Unmarshal(data, &ei); err != nil {
		return nil, fmt.Errorf("mls: unmarshal exported identity: %w", err)
	}
	id := &Identity{
		UserID:     userID,
		DeviceID:   deviceID,
		Credential: []byte(fmt.Sprintf("%d:%s", userID, deviceID)),
		SigPub:     ei.CredentialWithKey.SigPub,
		SigPriv:    ei.SignatureKeys,
	}
	copy(id.DHPub[:], ei.CredentialWithKey.DHPub)
	copy(id.DHPriv[:], ei.DHPriv)
	return id, nil
}

func (s *store) saveIdentity(id *Identity) error {
	cwk, err := json.Marshal(identityRecord{
		UserID: id.UserID, DeviceID: id.DeviceID, Credential: id.Credential,
		SigPub: id.SigPub, DHPub: id.DHPub[:],
	})
	if err != nil {
		return fmt.Errorf("mls: marshal credential: %w", err)
	}
	sigValue := base64.StdEncoding.EncodeToString(id.SigPriv)
	dhValue := base64.StdEncoding.EncodeToString(id.DHPriv[:])
	if s.encryptionKey != nil {
		sigValue, err = storage.EncryptValue(s.encryptionKey, sigValue)
		if err != nil {
			return fmt.Errorf("mls: encrypt signature keys: %w", err)
		}
		dhValue, err = storage.EncryptValue(s.encryptionKey, dhValue)
		if err != nil {
			return fmt.Errorf("mls: encrypt leaf encryption key: %w", err)
		}
	}

	_, err = s.db.Exec(`
		INSERT INTO vox_identity (id, user_id, device_id, credential_with_key, signature_key_pair, dh_key_pair)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			device_id = excluded.device_id,
			credential_with_key = excluded.credential_with_key,
			signature_key_pair = excluded.signature_key_pair,
			dh_key_pair = excluded.dh_key_pair
	`, id.UserID, id.DeviceID, string(cwk), sigValue, dhValue)
	if err != nil {
		return fmt.Errorf("mls: save identity: %w", err)
	}
	return nil
}

func (s *store) loadIdentity() (*Identity, error) {
	row := s.db.QueryRow(`SELECT user_id, device_id, credential_with_key, signature_key_pair, dh_key_pair FROM vox_identity WHERE id = 1`)

	var userID uint64
	var deviceID, cwkJSON, sigValue, dhValue string
	if err := row.Scan(&userID, &deviceID, &cwkJSON, &sigValue, &dhValue); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("mls: load identity: %w", err)
	}

	var cwk identityRecord
	if err := json.Unmarshal([]byte(cwkJSON), &cwk); err != nil {
		return nil, fmt.Errorf("mls: unmarshal credential: %w", err)
	}

	if s.encryptionKey != nil {
		var err error
		sigValue, err = storage.DecryptValue(s.encryptionKey, sigValue)
		if err != nil {
			return nil, fmt.Errorf("mls: decrypt signature keys: %w", err)
		}
		dhValue, err = storage.DecryptValue(s.encryptionKey, dhValue)
		if err != nil {
			return nil, fmt.Errorf("mls: decrypt leaf encryption key: %w", err)
		}
	}
	sigPriv, err := base64.StdEncoding.DecodeString(sigValue)
	if err != nil {
		return nil, fmt.Errorf("mls: decode signature keys: %w", err)
	}
	dhPrivBytes, err := base64.StdEncoding.DecodeString(dhValue)
	if err != nil {
		return nil, fmt.Errorf("mls: decode leaf encryption key: %w", err)
	}

	id := &Identity{
		UserID: userID, DeviceID: deviceID, Credential: cwk.Credential,
		SigPub: cwk.SigPub, SigPriv: ed25519.PrivateKey(sigPriv),
	}
	copy(id.DHPub[:], cwk.DHPub)
	copy(id.DHPriv[:], dhPrivBytes)
	return id, nil
}

func (s *store) saveKeyPackagePriv(dhPub [32]byte, dhPriv [32]byte) error {
	key := base64.StdEncoding.EncodeToString(dhPub[:])
	_, err := s.db.Exec(`
		INSERT INTO vox_keypackages (dh_pub, dh_priv) VALUES (?, ?)
		ON CONFLICT(dh_pub) DO UPDATE SET dh_priv = excluded.dh_priv
	`, key, dhPriv[:])
	if err != nil {
		return fmt.Errorf("mls: save key package private key: %w", err)
	}
	return nil
}

// findKeyPackagePriv looks up the private init key for whichever of our
// pending KeyPackages a Welcome's membership list references.
func (s *store) findKeyPackagePriv(candidates []memberInfo) (dhPub [32]byte, dhPriv [32]byte, found bool, err error) {
	rows, err := s.db.Query(`SELECT dh_pub, dh_priv FROM vox_keypackages`)
	if err != nil {
		return dhPub, dhPriv, false, fmt.Errorf("mls: list key packages: %w", err)
	}
	defer rows.Close()

	stored := map[string][]byte{}
	for rows.Next() {
		var pubB64 string
		var priv []byte
		if err := rows.Scan(&pubB64, &priv); err != nil {
			return dhPub, dhPriv, false, fmt.Errorf("mls: scan key package: %w", err)
		}
		stored[pubB64] = priv
	}

	for _, m := range candidates {
		key := base64.StdEncoding.EncodeToString(m.DHPub[:])
		if priv, ok := stored[key]; ok {
			copy(dhPub[:], m.DHPub[:])
			copy(dhPriv[:], priv)
			return dhPub, dhPriv, true, nil
		}
	}
	return dhPub, dhPriv, false, nil
}

func serializeGroup(g *group) []byte {
	var buf bytes.Buffer
	for _, m := range g.Members {
		_ = encodeMember(&buf, m)
	}
	return buf.Bytes()
}

func deserializeMembers(data []byte) ([]memberInfo, error) {
	r := bytes.NewReader(data)
	var members []memberInfo
	for r.Len() > 0 {
		m, err := decodeMember(r)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, nil
}

func (s *store) saveGroup(g *group) error {
	_, err := s.db.Exec(`
		INSERT INTO vox_groups (group_id, epoch, epoch_secret, my_index, members)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(group_id) DO UPDATE SET
			epoch = excluded.epoch,
			epoch_secret = excluded.epoch_secret,
			my_index = excluded.my_index,
			members = excluded.members
	`, string(g.ID), g.Epoch, g.EpochSecret, g.MyIndex, serializeGroup(g))
	if err != nil {
		return fmt.Errorf("mls: save group: %w", err)
	}
	return nil
}

func (s *store) loadGroup(groupID string) (*group, error) {
	row := s.db.QueryRow(`SELECT epoch, epoch_secret, my_index, members FROM vox_groups WHERE group_id = ?`, groupID)

	var epoch uint64
	var secret []byte
	var myIndex uint32
	var membersBlob []byte
	if err := row.Scan(&epoch, &secret, &myIndex, &membersBlob); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("mls: load group: %w", err)
	}
	members, err := deserializeMembers(membersBlob)
	if err != nil {
		return nil, fmt.Errorf("mls: decode stored members: %w", err)
	}
	return &group{ID: []byte(groupID), Epoch: epoch, EpochSecret: secret, Members: members, MyIndex: myIndex}, nil
}

func (s *store) groupExists(groupID string) (bool, error) {
	row := s.db.QueryRow(`SELECT 1 FROM vox_groups WHERE group_id = ?`, groupID)
	var one int
	if err := row.Scan(&one); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("mls: group_exists: %w", err)
	}
	return true, nil
}

func (s *store) listGroups() ([]string, error) {
	rows, err := s.db.Query(`SELECT group_id FROM vox_groups ORDER BY group_id`)
	if err != nil {
		return nil, fmt.Errorf("mls: list_groups: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("mls: scan group id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
