package mls

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
)

// group is one member's view of an MLS group: its own membership list and
// epoch secret, persisted wholesale between operations (there is no
// TreeKEM ratchet tree to diff; every commit carries the full updated
// membership list, per spec.md §4.7's "merge the pending commit" wording
// applied literally rather than via tree-path updates).
type group struct {
	ID          []byte
	Epoch       uint64
	EpochSecret []byte
	Members     []memberInfo
	MyIndex     uint32
}

func memberFromIdentity(id *Identity) memberInfo {
	return memberInfo{
		Credential: append([]byte(nil), id.Credential...),
		SigPub:     append(ed25519.PublicKey(nil), id.SigPub...),
		DHPub:      id.DHPub,
	}
}

// createGroup opens a new group under groupID. With no initial members it
// returns (nil, nil) for welcome/commit, per spec.md §4.7 "If initial
// members are empty, return no welcome/commit."
func createGroup(id *Identity, groupID string, initialKPs []*KeyPackage) (*group, *welcomeMessage, *commitMessage, error) {
	g := &group{
		ID:      []byte(groupID),
		Epoch:   1,
		Members: []memberInfo{memberFromIdentity(id)},
		MyIndex: 0,
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, nil, nil, fmt.Errorf("mls: group secret: %w", err)
	}
	g.EpochSecret = secret

	if len(initialKPs) == 0 {
		return g, nil, nil, nil
	}

	welcome := &welcomeMessage{GroupID: g.ID, Epoch: g.Epoch}
	for _, kp := range initialKPs {
		if err := kp.Verify(); err != nil {
			return nil, nil, nil, fmt.Errorf("mls: invalid key package: %w", err)
		}
		idx := uint32(len(g.Members))
		g.Members = append(g.Members, memberInfo{Credential: kp.Credential, SigPub: kp.SigPub, DHPub: kp.DHPub})

		ephPub, nonce, ct, err := wrapSecret(kp.DHPub, g.EpochSecret)
		if err != nil {
			return nil, nil, nil, err
		}
		welcome.Wrapped = append(welcome.Wrapped, wrappedSecret{
			RecipientIndex: idx, EphemeralPub: ephPub, Nonce: nonce, Ciphertext: ct,
		})
	}
	welcome.Members = g.Members

	commit := &commitMessage{GroupID: g.ID, NewEpoch: g.Epoch, Members: g.Members}
	return g, welcome, commit, nil
}

// joinGroup stages, commits, and returns the group described by a Welcome,
// per spec.md §4.7 "join_group". myDHPriv is the private half of whichever
// KeyPackage the sender addressed (looked up by the caller via
// store.findKeyPackagePriv); findWelcomeEntry then locates this member's
// entry in the Welcome.
func joinGroup(welcome *welcomeMessage, myDHPub [32]byte, myDHPriv [32]byte) (*group, error) {
	entry, myIndex, err := findWelcomeEntry(welcome, myDHPub)
	if err != nil {
		return nil, err
	}
	secret, err := unwrapSecret(myDHPriv, entry.EphemeralPub, entry.Nonce, entry.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("mls: join group: %w", err)
	}
	return &group{
		ID:          welcome.GroupID,
		Epoch:       welcome.Epoch,
		EpochSecret: secret,
		Members:     welcome.Members,
		MyIndex:     myIndex,
	}, nil
}

func findWelcomeEntry(welcome *welcomeMessage, myDHPub [32]byte) (wrappedSecret, uint32, error) {
	myIndex := indexOf(welcome.Members, myDHPub)
	if myIndex < 0 {
		return wrappedSecret{}, 0, fmt.Errorf("mls: welcome message does not address this key package")
	}
	for _, ws := range welcome.Wrapped {
		if ws.RecipientIndex == uint32(myIndex) {
			return ws, ws.RecipientIndex, nil
		}
	}
	return wrappedSecret{}, 0, fmt.Errorf("mls: welcome message does not address this key package")
}

func indexOf(members []memberInfo, dhPub [32]byte) int {
	for i, m := range members {
		if m.DHPub == dhPub {
			return i
		}
	}
	return -1
}

// addMember admits a new member, ratcheting the epoch forward and updating
// g in place, per spec.md §4.7 "add_member" ("Both merge the pending
// commit before returning").
func addMember(g *group, kp *KeyPackage) (*welcomeMessage, *commitMessage, error) {
	if err := kp.Verify(); err != nil {
		return nil, nil, fmt.Errorf("mls: invalid key package: %w", err)
	}

	var ratchet [12]byte
	if _, err := rand.Read(ratchet[:]); err != nil {
		return nil, nil, fmt.Errorf("mls: commit ratchet nonce: %w", err)
	}
	newSecret, err := nextEpochSecret(g.EpochSecret, ratchet)
	if err != nil {
		return nil, nil, err
	}

	newMember := memberInfo{Credential: kp.Credential, SigPub: kp.SigPub, DHPub: kp.DHPub}
	newIndex := uint32(len(g.Members))
	updatedMembers := append(append([]memberInfo(nil), g.Members...), newMember)

	ephPub, nonce, ct, err := wrapSecret(kp.DHPub, newSecret)
	if err != nil {
		return nil, nil, err
	}
	welcome := &welcomeMessage{
		GroupID: g.ID,
		Epoch:   g.Epoch + 1,
		Members: updatedMembers,
		Wrapped: []wrappedSecret{{RecipientIndex: newIndex, EphemeralPub: ephPub, Nonce: nonce, Ciphertext: ct}},
	}
	commit := &commitMessage{GroupID: g.ID, NewEpoch: g.Epoch + 1, RatchetFor: ratchet, Members: updatedMembers}

	g.Epoch++
	g.EpochSecret = newSecret
	g.Members = updatedMembers
	return welcome, commit, nil
}

// removeMember drops a member by leaf index, ratcheting the epoch forward,
// per spec.md §4.7 "remove_member".
func removeMember(g *group, memberIndex uint32) (*commitMessage, error) {
	if int(memberIndex) >= len(g.Members) {
		return nil, fmt.Errorf("mls: no member at index %d", memberIndex)
	}
	if memberIndex == g.MyIndex {
		return nil, fmt.Errorf("mls: cannot remove own membership via remove_member")
	}

	var ratchet [12]byte
	if _, err := rand.Read(ratchet[:]); err != nil {
		return nil, fmt.Errorf("mls: commit ratchet nonce: %w", err)
	}
	newSecret, err := nextEpochSecret(g.EpochSecret, ratchet)
	if err != nil {
		return nil, err
	}

	updated := make([]memberInfo, 0, len(g.Members)-1)
	for i, m := range g.Members {
		if uint32(i) == memberIndex {
			continue
		}
		updated = append(updated, m)
	}
	newMyIndex := g.MyIndex
	if memberIndex < g.MyIndex {
		newMyIndex--
	}

	commit := &commitMessage{GroupID: g.ID, NewEpoch: g.Epoch + 1, RatchetFor: ratchet, Members: updated}

	g.Epoch++
	g.EpochSecret = newSecret
	g.Members = updated
	g.MyIndex = newMyIndex
	return commit, nil
}

// applyCommit merges an incoming Commit into g, per spec.md §4.7 "Staged
// commits are merged".
func applyCommit(g *group, c *commitMessage) error {
	newSecret, err := nextEpochSecret(g.EpochSecret, c.RatchetFor)
	if err != nil {
		return err
	}
	myDHPub := g.Members[g.MyIndex].DHPub
	newIndex := indexOf(c.Members, myDHPub)
	if newIndex < 0 {
		return fmt.Errorf("mls: commit no longer lists this member")
	}
	g.Epoch = c.NewEpoch
	g.EpochSecret = newSecret
	g.Members = c.Members
	g.MyIndex = uint32(newIndex)
	return nil
}

// ProcessedKind identifies the variant returned by process_message, per
// spec.md §4.7.
type ProcessedKind int

const (
	Application ProcessedKind = iota
	Commit
	Proposal
	ExternalJoinProposal
)

// Processed is the result of process_message: Plaintext is set only for
// Application.
type Processed struct {
	Kind      ProcessedKind
	Plaintext []byte
}

func encryptApplication(id *Identity, g *group, plaintext []byte) ([]byte, error) {
	key, err := epochMessageKey(g.EpochSecret)
	if err != nil {
		return nil, err
	}
	gcm, err := newAESGCM(key)
	if err != nil {
		return nil, err
	}
	am := &applicationMessage{
		GroupID:      g.ID,
		SenderIndex:  g.MyIndex,
		SignerSigPub: id.SigPub,
	}
	if _, err := rand.Read(am.Nonce[:]); err != nil {
		return nil, fmt.Errorf("mls: application nonce: %w", err)
	}
	am.Ciphertext = gcm.Seal(nil, am.Nonce[:], plaintext, nil)
	am.Signature = ed25519.Sign(id.SigPriv, am.signedContent())
	return am.encode(), nil
}

func decryptApplication(g *group, am *applicationMessage) ([]byte, error) {
	if int(am.SenderIndex) >= len(g.Members) {
		return nil, fmt.Errorf("mls: application message from unknown sender index %d", am.SenderIndex)
	}
	sender := g.Members[am.SenderIndex]
	if !ed25519.Verify(sender.SigPub, am.signedContent(), am.Signature) {
		return nil, fmt.Errorf("mls: application message signature invalid")
	}
	key, err := epochMessageKey(g.EpochSecret)
	if err != nil {
		return nil, err
	}
	gcm, err := newAESGCM(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, am.Nonce[:], am.Ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("mls: decrypt application message: %w", err)
	}
	return plaintext, nil
}
