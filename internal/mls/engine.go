package mls

import (
	"fmt"
	"sync"

	"voxmedia/internal/storage"
)

// Engine is the local MLS service: one identity, many groups, all
// persisted to an embedded SQLite store. Per spec.md §9 "MLS engine
// non-sharability", the underlying store handle is not safe for
// concurrent use from multiple goroutines; Engine enforces this with a
// mutex rather than documentation alone, so misuse blocks instead of
// racing the database.
type Engine struct {
	mu    sync.Mutex
	store *store
	id    *Identity
}

// Open creates an Engine backed by db. If db already holds a saved
// identity, it is loaded; otherwise the Engine starts with no identity
// until GenerateIdentity or ImportIdentity is called. encryptionKey, if
// non-nil, must be 32 bytes and is used to encrypt signature and leaf
// keys at rest via the "enc:v1:" envelope (spec.md §6).
func Open(db *storage.DB, encryptionKey []byte) (*Engine, error) {
	st, err := newStore(db, encryptionKey)
	if err != nil {
		return nil, err
	}
	id, err := st.loadIdentity()
	if err != nil {
		return nil, err
	}
	return &Engine{store: st, id: id}, nil
}

// GenerateIdentity creates and persists a new identity, returning its
// public signing key. It fails if an identity already exists, per
// spec.md §4.7 "generate_identity".
func (e *Engine) GenerateIdentity(userID uint64, deviceID string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.id != nil {
		return nil, fmt.Errorf("mls: identity already initialized")
	}
	id, err := generateIdentity(userID, deviceID)
	if err != nil {
		return nil, err
	}
	if err := e.store.saveIdentity(id); err != nil {
		return nil, err
	}
	e.id = id
	return append([]byte(nil), id.SigPub...), nil
}

func (e *Engine) requireIdentity() (*Identity, error) {
	if e.id == nil {
		return nil, fmt.Errorf("mls: identity not initialized — call GenerateIdentity first")
	}
	return e.id, nil
}

// GenerateKeyPackage builds and persists one new KeyPackage's private init
// key, returning the TLS-serialized public KeyPackage for upload to the
// server, per spec.md §4.7.
func (e *Engine) GenerateKeyPackage() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id, err := e.requireIdentity()
	if err != nil {
		return nil, err
	}
	kp, dhPriv, err := generateKeyPackage(id)
	if err != nil {
		return nil, err
	}
	if err := e.store.saveKeyPackagePriv(kp.DHPub, dhPriv); err != nil {
		return nil, err
	}
	return EncodeKeyPackage(kp), nil
}

// GenerateKeyPackages builds count independent KeyPackages.
func (e *Engine) GenerateKeyPackages(count int) ([][]byte, error) {
	out := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		kp, err := e.GenerateKeyPackage()
		if err != nil {
			return nil, err
		}
		out = append(out, kp)
	}
	return out, nil
}

// CreateGroup opens a new group, per spec.md §4.7 "create_group".
func (e *Engine) CreateGroup(groupID string, memberKeyPackages [][]byte) (welcome []byte, commit []byte, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id, err := e.requireIdentity()
	if err != nil {
		return nil, nil, err
	}

	kps := make([]*KeyPackage, len(memberKeyPackages))
	for i, raw := range memberKeyPackages {
		kp, err := DecodeKeyPackage(raw)
		if err != nil {
			return nil, nil, fmt.Errorf("mls: create_group: %w", err)
		}
		kps[i] = kp
	}

	g, w, c, err := createGroup(id, groupID, kps)
	if err != nil {
		return nil, nil, err
	}
	if err := e.store.saveGroup(g); err != nil {
		return nil, nil, err
	}

	if w == nil {
		return nil, nil, nil
	}
	return w.encode(), c.encode(), nil
}

// JoinGroup accepts a Welcome and persists the resulting group, returning
// its group ID, per spec.md §4.7 "join_group".
func (e *Engine) JoinGroup(welcomeBytes []byte) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	welcome, err := decodeWelcome(welcomeBytes)
	if err != nil {
		return "", fmt.Errorf("mls: join_group: %w", err)
	}

	myDHPub, myDHPriv, found, err := e.store.findKeyPackagePriv(welcome.Members)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("mls: join_group: no matching key package for this welcome")
	}

	g, err := joinGroup(welcome, myDHPub, myDHPriv)
	if err != nil {
		return "", err
	}
	if err := e.store.saveGroup(g); err != nil {
		return "", err
	}
	return string(g.ID), nil
}

func (e *Engine) loadGroup(groupID string) (*group, error) {
	g, err := e.store.loadGroup(groupID)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, fmt.Errorf("mls: no group with id %q", groupID)
	}
	return g, nil
}

// AddMember admits a new member to an existing group, per spec.md §4.7
// "add_member".
func (e *Engine) AddMember(groupID string, keyPackage []byte) (welcome []byte, commit []byte, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	g, err := e.loadGroup(groupID)
	if err != nil {
		return nil, nil, err
	}
	kp, err := DecodeKeyPackage(keyPackage)
	if err != nil {
		return nil, nil, fmt.Errorf("mls: add_member: %w", err)
	}
	w, c, err := addMember(g, kp)
	if err != nil {
		return nil, nil, err
	}
	if err := e.store.saveGroup(g); err != nil {
		return nil, nil, err
	}
	return w.encode(), c.encode(), nil
}

// RemoveMember drops a member by leaf index, per spec.md §4.7
// "remove_member".
func (e *Engine) RemoveMember(groupID string, memberIndex uint32) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	g, err := e.loadGroup(groupID)
	if err != nil {
		return nil, err
	}
	c, err := removeMember(g, memberIndex)
	if err != nil {
		return nil, err
	}
	if err := e.store.saveGroup(g); err != nil {
		return nil, err
	}
	return c.encode(), nil
}

// ProcessMessage decodes and applies one incoming group message, per
// spec.md §4.7 "process_message".
func (e *Engine) ProcessMessage(groupID string, message []byte) (Processed, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	g, err := e.loadGroup(groupID)
	if err != nil {
		return Processed{}, err
	}

	kind, msg, err := decodeGroupMessage(message)
	if err != nil {
		return Processed{}, fmt.Errorf("mls: process_message: %w", err)
	}

	switch kind {
	case kindApplication:
		am := msg.(*applicationMessage)
		plaintext, err := decryptApplication(g, am)
		if err != nil {
			return Processed{}, err
		}
		return Processed{Kind: Application, Plaintext: plaintext}, nil

	case kindCommit:
		c := msg.(*commitMessage)
		if err := applyCommit(g, c); err != nil {
			return Processed{}, err
		}
		if err := e.store.saveGroup(g); err != nil {
			return Processed{}, err
		}
		return Processed{Kind: Commit}, nil

	case kindProposal:
		// Proposals are recognized and reported, but neither applied nor
		// stored; this engine never generates one itself since
		// add_member/remove_member always commit directly.
		return Processed{Kind: Proposal}, nil

	case kindExternalJoinProposal:
		return Processed{Kind: ExternalJoinProposal}, nil

	default:
		return Processed{}, fmt.Errorf("mls: process_message: unhandled kind %d", kind)
	}
}

// Encrypt seals plaintext into an application message, per spec.md §4.7
// "encrypt".
func (e *Engine) Encrypt(groupID string, plaintext []byte) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id, err := e.requireIdentity()
	if err != nil {
		return nil, err
	}
	g, err := e.loadGroup(groupID)
	if err != nil {
		return nil, err
	}
	return encryptApplication(id, g, plaintext)
}

// Decrypt is a convenience wrapper over ProcessMessage that returns only
// the plaintext, per spec.md §4.7 "decrypt".
func (e *Engine) Decrypt(groupID string, ciphertext []byte) ([]byte, error) {
	result, err := e.ProcessMessage(groupID, ciphertext)
	if err != nil {
		return nil, err
	}
	if result.Kind != Application {
		return nil, fmt.Errorf("mls: decrypt: message is not an application message")
	}
	return result.Plaintext, nil
}

// GroupExists reports whether groupID has persisted state.
func (e *Engine) GroupExists(groupID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	exists, _ := e.store.groupExists(groupID)
	return exists
}

// ListGroups returns all group IDs this engine manages.
func (e *Engine) ListGroups() ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.listGroups()
}

// IdentityKey returns the public signing key, or nil if no identity has
// been generated yet.
func (e *Engine) IdentityKey() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.id == nil {
		return nil
	}
	return append([]byte(nil), e.id.SigPub...)
}

// ExportState returns the full embedded store as raw bytes (identity plus
// every group), for backup, per spec.md §4.7 "export_state".
func (e *Engine) ExportState() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.db.Export()
}

// ImportState replaces the embedded store's contents and reloads identity,
// per spec.md §4.7 "import_state".
func (e *Engine) ImportState(data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.store.db.Import(data); err != nil {
		return err
	}
	id, err := e.store.loadIdentity()
	if err != nil {
		return err
	}
	if id == nil {
		return fmt.Errorf("mls: import_state: backup does not contain identity data")
	}
	e.id = id
	return nil
}

// ExportIdentity returns a narrower backup covering only signature keys
// and credential, for device migration, per spec.md §4.7
// "export_identity".
func (e *Engine) ExportIdentity() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id, err := e.requireIdentity()
	if err != nil {
		return nil, err
	}
	return encodeExportedIdentity(id)
}

// ImportIdentity restores a previously exported identity and persists it,
// per spec.md §4.7 "import_identity".
func (e *Engine) ImportIdentity(data []byte, userID uint64, deviceID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	id, err := decodeExportedIdentity(data, userID, deviceID)
	if err != nil {
		return err
	}
	if err := e.store.saveIdentity(id); err != nil {
		return err
	}
	e.id = id
	return nil
}
