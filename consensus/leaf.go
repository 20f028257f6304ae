package consensus

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
)

// Hash is the content address of a leaf or payload digest.
type Hash [32]byte

var ZeroHash Hash

func (h Hash) IsZero() bool {
	return h == ZeroHash
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:6])
}

func HashOf(data []byte) Hash {
	return sha256.Sum256(data)
}

// Leaf is a block payload together with its parent linkage. Leaves form a
// single chain back to genesis; each leaf carries the certificate that
// justified its proposal: the QC for its parent on the happy path, or the
// latest TC when the prior view timed out.
type Leaf struct {
	// View in which the leaf was proposed
	View uint64
	// Parent is the hash of the leaf this one extends
	Parent Hash
	// Payload is the opaque block data agreed on
	Payload []byte
	// PayloadDigest commits to the payload
	PayloadDigest Hash
	// Justify is the QC for the parent leaf. Nil only on genesis.
	Justify *QuorumCertificate
	// JustifyTC is set instead of a fresh parent QC when the leaf was
	// proposed after a view timed out. Justify then carries the highest
	// QC known to the timed out quorum.
	JustifyTC *TimeoutCertificate
}

func NewLeaf(view uint64, parent Hash, payload []byte, justify *QuorumCertificate, justifyTC *TimeoutCertificate) *Leaf {
	return &Leaf{
		View:          view,
		Parent:        parent,
		Payload:       payload,
		PayloadDigest: HashOf(payload),
		Justify:       justify,
		JustifyTC:     justifyTC,
	}
}

// GenesisLeaf returns the well known first leaf of the chain for a
// namespace. All nodes derive the identical genesis, so view 0 needs no
// certificate.
func GenesisLeaf(namespace []byte) *Leaf {
	return &Leaf{
		View:          0,
		Parent:        ZeroHash,
		Payload:       nil,
		PayloadDigest: HashOf(namespace),
	}
}

// ID returns the content hash of the leaf. The justifying certificate's
// view is part of the identity so that re-proposals of the same payload
// under different justifications are distinct leaves.
func (l *Leaf) ID() Hash {
	buf := make([]byte, 0, 8+32+32+8)
	buf = binary.BigEndian.AppendUint64(buf, l.View)
	buf = append(buf, l.Parent[:]...)
	buf = append(buf, l.PayloadDigest[:]...)
	buf = binary.BigEndian.AppendUint64(buf, l.justifyView())
	return sha256.Sum256(buf)
}

func (l *Leaf) justifyView() uint64 {
	if l.Justify != nil {
		return l.Justify.View
	}
	return 0
}

// JustifyQCView returns the view of the QC attached to this leaf, or 0 for
// genesis.
func (l *Leaf) JustifyQCView() uint64 {
	return l.justifyView()
}

func (l *Leaf) IsGenesis() bool {
	return l.View == 0 && l.Parent.IsZero()
}

// ValidateForm checks structural well-formedness independent of any
// consensus state.
func (l *Leaf) ValidateForm() error {
	if l == nil {
		return errors.New("nil leaf")
	}
	if l.IsGenesis() {
		return nil
	}
	if l.Justify == nil {
		return errors.New("leaf does not carry a justifying QC")
	}
	if l.Parent.IsZero() {
		return errors.New("leaf does not reference a parent")
	}
	if l.Justify.Leaf != l.Parent {
		return fmt.Errorf("justifying QC certifies %s, leaf extends %s", l.Justify.Leaf, l.Parent)
	}
	if l.Justify.View >= l.View {
		return fmt.Errorf("justifying QC view %d not below leaf view %d", l.Justify.View, l.View)
	}
	if l.JustifyTC != nil && l.JustifyTC.View >= l.View {
		return fmt.Errorf("justifying TC view %d not below leaf view %d", l.JustifyTC.View, l.View)
	}
	if l.PayloadDigest != HashOf(l.Payload) {
		return errors.New("payload digest does not match payload")
	}
	return nil
}

func (l *Leaf) String() string {
	if l == nil {
		return "nil"
	}
	return fmt.Sprintf("Leaf{%s @ %d <- %s}", l.ID(), l.View, l.Parent)
}

// Proposal is a leaf signed by the leader of its view.
type Proposal struct {
	Leaf      *Leaf
	Signer    []byte
	Signature []byte
}

func (p *Proposal) ValidateForm() error {
	if p == nil || p.Leaf == nil {
		return errors.New("nil proposal")
	}
	if err := p.Leaf.ValidateForm(); err != nil {
		return err
	}
	if len(p.Signer) == 0 {
		return errors.New("proposal does not identify its proposer")
	}
	if len(p.Signature) == 0 {
		return errors.New("proposal does not contain a signature")
	}
	return nil
}

func (p *Proposal) String() string {
	if p == nil {
		return "nil"
	}
	return fmt.Sprintf("Proposal{%s by %X}", p.Leaf, truncate(p.Signer, 4))
}

func truncate(data []byte, max int) []byte {
	if len(data) > max {
		return data[:max]
	}
	return data
}
