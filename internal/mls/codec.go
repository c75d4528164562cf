package mls

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"fmt"
)

// Wire message kinds, tagged as the first byte of every serialized group
// message (Welcome, Commit, Proposal, Application) this package produces,
// per spec.md §4.7 "process_message". Encoded KeyPackages carry no kind byte.
const (
	kindApplication byte = iota
	kindCommit
	kindProposal
	kindExternalJoinProposal
	kindWelcome
)

// writeBytes TLS-encodes b as a u16 length prefix followed by its content,
// matching spec.md §4.7 "each is serialized with TLS length-prefixed
// encoding".
func writeBytes(buf *bytes.Buffer, b []byte) error {
	if len(b) > 0xFFFF {
		return fmt.Errorf("mls: value too long to TLS-encode (%d bytes)", len(b))
	}
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(b)))
	buf.Write(lenBuf[:])
	buf.Write(b)
	return nil
}

func readBytes(r *bytes.Reader) ([]byte, error) {
	var lenBuf [2]byte
	if _, err := r.Read(lenBuf[:]); err != nil {
		return nil, fmt.Errorf("mls: truncated length prefix: %w", err)
	}
	n := binary.BigEndian.Uint16(lenBuf[:])
	out := make([]byte, n)
	if n > 0 {
		if _, err := r.Read(out); err != nil {
			return nil, fmt.Errorf("mls: truncated value: %w", err)
		}
	}
	return out, nil
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func readUint64(r *bytes.Reader) (uint64, error) {
	var b [8]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, fmt.Errorf("mls: truncated uint64: %w", err)
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func readUint32(r *bytes.Reader) (uint32, error) {
	var b [4]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, fmt.Errorf("mls: truncated uint32: %w", err)
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func encodeKeyPackage(buf *bytes.Buffer, kp *KeyPackage) error {
	if err := writeBytes(buf, kp.Credential); err != nil {
		return err
	}
	if err := writeBytes(buf, kp.SigPub); err != nil {
		return err
	}
	buf.Write(kp.DHPub[:])
	return writeBytes(buf, kp.Signature)
}

func decodeKeyPackage(r *bytes.Reader) (*KeyPackage, error) {
	cred, err := readBytes(r)
	if err != nil {
		return nil, err
	}
	sigPub, err := readBytes(r)
	if err != nil {
		return nil, err
	}
	var dhPub [32]byte
	if _, err := r.Read(dhPub[:]); err != nil {
		return nil, fmt.Errorf("mls: truncated dh pub: %w", err)
	}
	sig, err := readBytes(r)
	if err != nil {
		return nil, err
	}
	return &KeyPackage{
		Credential: cred,
		SigPub:     ed25519.PublicKey(sigPub),
		DHPub:      dhPub,
		Signature:  sig,
	}, nil
}

// EncodeKeyPackage TLS-serializes a standalone KeyPackage for upload to the
// server, per spec.md §4.7 "generate_key_package[s]".
func EncodeKeyPackage(kp *KeyPackage) []byte {
	var buf bytes.Buffer
	_ = encodeKeyPackage(&buf, kp)
	return buf.Bytes()
}

// DecodeKeyPackage parses a standalone KeyPackage, validating its
// self-signature, per spec.md §4.7 "validate each key package".
func DecodeKeyPackage(data []byte) (*KeyPackage, error) {
	kp, err := decodeKeyPackage(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("mls: invalid key package: %w", err)
	}
	if err := kp.Verify(); err != nil {
		return nil, err
	}
	return kp, nil
}

// memberInfo is one group member's public identity, as carried in Welcome
// and Commit messages.
type memberInfo struct {
	Credential []byte
	SigPub     ed25519.PublicKey
	DHPub      [32]byte
}

func encodeMember(buf *bytes.Buffer, m memberInfo) error {
	if err := writeBytes(buf, m.Credential); err != nil {
		return err
	}
	if err := writeBytes(buf, m.SigPub); err != nil {
		return err
	}
	buf.Write(m.DHPub[:])
	return nil
}

func decodeMember(r *bytes.Reader) (memberInfo, error) {
	cred, err := readBytes(r)
	if err != nil {
		return memberInfo{}, err
	}
	sigPub, err := readBytes(r)
	if err != nil {
		return memberInfo{}, err
	}
	var dhPub [32]byte
	if _, err := r.Read(dhPub[:]); err != nil {
		return memberInfo{}, fmt.Errorf("mls: truncated member dh pub: %w", err)
	}
	return memberInfo{Credential: cred, SigPub: ed25519.PublicKey(sigPub), DHPub: dhPub}, nil
}

// wrappedSecret is one member's epoch secret, sealed under a DHKEM key
// agreed between an ephemeral sender key and that member's init key.
type wrappedSecret struct {
	RecipientIndex uint32
	EphemeralPub   [32]byte
	Nonce          [12]byte
	Ciphertext     []byte
}

func encodeWrapped(buf *bytes.Buffer, w wrappedSecret) error {
	writeUint32(buf, w.RecipientIndex)
	buf.Write(w.EphemeralPub[:])
	buf.Write(w.Nonce[:])
	return writeBytes(buf, w.Ciphertext)
}

func decodeWrapped(r *bytes.Reader) (wrappedSecret, error) {
	idx, err := readUint32(r)
	if err != nil {
		return wrappedSecret{}, err
	}
	var eph [32]byte
	if _, err := r.Read(eph[:]); err != nil {
		return wrappedSecret{}, fmt.Errorf("mls: truncated ephemeral pub: %w", err)
	}
	var nonce [12]byte
	if _, err := r.Read(nonce[:]); err != nil {
		return wrappedSecret{}, fmt.Errorf("mls: truncated nonce: %w", err)
	}
	ct, err := readBytes(r)
	if err != nil {
		return wrappedSecret{}, err
	}
	return wrappedSecret{RecipientIndex: idx, EphemeralPub: eph, Nonce: nonce, Ciphertext: ct}, nil
}

// welcomeMessage invites one or more new members into a group at its
// current membership and epoch.
type welcomeMessage struct {
	GroupID []byte
	Epoch   uint64
	Members []memberInfo
	Wrapped []wrappedSecret
}

func (w *welcomeMessage) encode() []byte {
	var buf bytes.Buffer
	buf.WriteByte(kindWelcome)
	_ = writeBytes(&buf, w.GroupID)
	writeUint64(&buf, w.Epoch)
	writeUint32(&buf, uint32(len(w.Members)))
	for _, m := range w.Members {
		_ = encodeMember(&buf, m)
	}
	writeUint32(&buf, uint32(len(w.Wrapped)))
	for _, ws := range w.Wrapped {
		_ = encodeWrapped(&buf, ws)
	}
	return buf.Bytes()
}

func decodeWelcome(data []byte) (*welcomeMessage, error) {
	r := bytes.NewReader(data)
	kind, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("mls: empty welcome message")
	}
	if kind != kindWelcome {
		return nil, fmt.Errorf("mls: not a welcome message (kind %d)", kind)
	}
	gid, err := readBytes(r)
	if err != nil {
		return nil, err
	}
	epoch, err := readUint64(r)
	if err != nil {
		return nil, err
	}
	nMembers, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	members := make([]memberInfo, nMembers)
	for i := range members {
		m, err := decodeMember(r)
		if err != nil {
			return nil, err
		}
		members[i] = m
	}
	nWrapped, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	wrapped := make([]wrappedSecret, nWrapped)
	for i := range wrapped {
		ws, err := decodeWrapped(r)
		if err != nil {
			return nil, err
		}
		wrapped[i] = ws
	}
	return &welcomeMessage{GroupID: gid, Epoch: epoch, Members: members, Wrapped: wrapped}, nil
}

// commitMessage ratchets the group to a new epoch and/or membership list.
type commitMessage struct {
	GroupID    []byte
	NewEpoch   uint64
	RatchetFor [12]byte // nonce existing members HKDF-expand their epoch secret with
	Members    []memberInfo
}

func (c *commitMessage) encode() []byte {
	var buf bytes.Buffer
	buf.WriteByte(kindCommit)
	_ = writeBytes(&buf, c.GroupID)
	writeUint64(&buf, c.NewEpoch)
	buf.Write(c.RatchetFor[:])
	writeUint32(&buf, uint32(len(c.Members)))
	for _, m := range c.Members {
		_ = encodeMember(&buf, m)
	}
	return buf.Bytes()
}

func decodeCommit(r *bytes.Reader) (*commitMessage, error) {
	gid, err := readBytes(r)
	if err != nil {
		return nil, err
	}
	epoch, err := readUint64(r)
	if err != nil {
		return nil, err
	}
	var ratchet [12]byte
	if _, err := r.Read(ratchet[:]); err != nil {
		return nil, fmt.Errorf("mls: truncated commit ratchet nonce: %w", err)
	}
	n, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	members := make([]memberInfo, n)
	for i := range members {
		m, err := decodeMember(r)
		if err != nil {
			return nil, err
		}
		members[i] = m
	}
	return &commitMessage{GroupID: gid, NewEpoch: epoch, RatchetFor: ratchet, Members: members}, nil
}

// applicationMessage is one AEAD-sealed plaintext payload.
type applicationMessage struct {
	GroupID      []byte
	SenderIndex  uint32
	Nonce        [12]byte
	Ciphertext   []byte
	SignerSigPub ed25519.PublicKey
	Signature    []byte
}

func (a *applicationMessage) signedContent() []byte {
	var buf bytes.Buffer
	buf.Write(a.GroupID)
	writeUint32(&buf, a.SenderIndex)
	buf.Write(a.Nonce[:])
	buf.Write(a.Ciphertext)
	return buf.Bytes()
}

func (a *applicationMessage) encode() []byte {
	var buf bytes.Buffer
	buf.WriteByte(kindApplication)
	_ = writeBytes(&buf, a.GroupID)
	writeUint32(&buf, a.SenderIndex)
	buf.Write(a.Nonce[:])
	_ = writeBytes(&buf, a.Ciphertext)
	_ = writeBytes(&buf, a.SignerSigPub)
	_ = writeBytes(&buf, a.Signature)
	return buf.Bytes()
}

func decodeApplication(r *bytes.Reader) (*applicationMessage, error) {
	gid, err := readBytes(r)
	if err != nil {
		return nil, err
	}
	idx, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	var nonce [12]byte
	if _, err := r.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("mls: truncated application nonce: %w", err)
	}
	ct, err := readBytes(r)
	if err != nil {
		return nil, err
	}
	sigPub, err := readBytes(r)
	if err != nil {
		return nil, err
	}
	sig, err := readBytes(r)
	if err != nil {
		return nil, err
	}
	return &applicationMessage{
		GroupID: gid, SenderIndex: idx, Nonce: nonce, Ciphertext: ct,
		SignerSigPub: ed25519.PublicKey(sigPub), Signature: sig,
	}, nil
}

// proposalMessage is a minimal, untyped pending change: this engine does
// not generate proposals itself (add_member/remove_member always commit
// directly). process_message recognizes one arriving from elsewhere and
// reports it as a Proposal without storing it.
type proposalMessage struct {
	GroupID []byte
	Body    []byte
}

func (p *proposalMessage) encode() []byte {
	var buf bytes.Buffer
	buf.WriteByte(kindProposal)
	_ = writeBytes(&buf, p.GroupID)
	_ = writeBytes(&buf, p.Body)
	return buf.Bytes()
}

func decodeProposal(r *bytes.Reader) (*proposalMessage, error) {
	gid, err := readBytes(r)
	if err != nil {
		return nil, err
	}
	body, err := readBytes(r)
	if err != nil {
		return nil, err
	}
	return &proposalMessage{GroupID: gid, Body: body}, nil
}

// decodeGroupMessage sniffs the leading kind byte and dispatches to the
// matching decoder, used by process_message.
func decodeGroupMessage(data []byte) (kind byte, msg interface{}, err error) {
	r := bytes.NewReader(data)
	kind, err = r.ReadByte()
	if err != nil {
		return 0, nil, fmt.Errorf("mls: empty message")
	}
	switch kind {
	case kindApplication:
		msg, err = decodeApplication(r)
	case kindCommit:
		msg, err = decodeCommit(r)
	case kindProposal:
		msg, err = decodeProposal(r)
	case kindExternalJoinProposal:
		msg, err = decodeProposal(r)
	default:
		return 0, nil, fmt.Errorf("mls: unknown message kind %d", kind)
	}
	return kind, msg, err
}
