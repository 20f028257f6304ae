package consensus

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/miles-six/hotshot/pkg/committee"
)

// CertKind distinguishes the two certificate families the protocol forms.
type CertKind uint8

const (
	// QuorumCert proves a stake weighted quorum endorsed a leaf in a view.
	QuorumCert CertKind = iota + 1
	// TimeoutCert proves a stake weighted quorum gave up on a view.
	TimeoutCert
)

func (k CertKind) String() string {
	switch k {
	case QuorumCert:
		return "quorum"
	case TimeoutCert:
		return "timeout"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// QuorumCertificate aggregates a quorum of leaf votes for one view. The
// signature set is the list of member signatures paired with their signer
// ids; Stake records the cumulative voting power behind it.
type QuorumCertificate struct {
	View       uint64
	Leaf       Hash
	Signers    [][]byte
	Signatures [][]byte
	Stake      uint64
}

// GenesisQC returns the trust anchor certificate for view 0. It carries no
// signatures: every node derives the identical genesis leaf.
func GenesisQC(genesis *Leaf) *QuorumCertificate {
	return &QuorumCertificate{
		View: 0,
		Leaf: genesis.ID(),
	}
}

func (qc *QuorumCertificate) IsGenesis() bool {
	return qc.View == 0
}

// Verify checks the certificate against the committee for its view:
// structural form, signer membership and uniqueness, every signature, and
// that the recorded stake both matches the signer set and reaches the
// quorum threshold.
func (qc *QuorumCertificate) Verify(c committee.Committee, namespace []byte) error {
	if qc == nil {
		return errors.New("nil quorum certificate")
	}
	if qc.IsGenesis() {
		if len(qc.Signers) != 0 || len(qc.Signatures) != 0 {
			return errors.New("genesis QC must not carry signatures")
		}
		return nil
	}
	if qc.Leaf.IsZero() {
		return errors.New("quorum certificate does not reference a leaf")
	}
	msg := VoteSignBytes(qc.View, qc.Leaf, namespace)
	stake, err := verifySignatureSet(c, qc.View, qc.Signers, qc.Signatures, msg)
	if err != nil {
		return err
	}
	if stake != qc.Stake {
		return fmt.Errorf("certificate claims stake %d, signatures carry %d", qc.Stake, stake)
	}
	if threshold := c.QuorumThreshold(qc.View); stake < threshold {
		return fmt.Errorf("certificate stake %d below quorum threshold %d", stake, threshold)
	}
	return nil
}

func (qc *QuorumCertificate) String() string {
	if qc == nil {
		return "nil"
	}
	return fmt.Sprintf("QC{%s @ %d, stake %d}", qc.Leaf, qc.View, qc.Stake)
}

// TimeoutCertificate aggregates a quorum of timeout votes for one view.
// HighQCView is the highest QC view any contributing member declared; the
// next leader justifies its proposal with a QC at least that fresh.
type TimeoutCertificate struct {
	View       uint64
	HighQCView uint64
	Signers    [][]byte
	Signatures [][]byte
	// HighQCViews holds the per-signer declared QC views, parallel to
	// Signers, since each member signed over its own declaration.
	HighQCViews []uint64
	Stake       uint64
}

// Verify checks the certificate against the committee for its view.
func (tc *TimeoutCertificate) Verify(c committee.Committee, namespace []byte) error {
	if tc == nil {
		return errors.New("nil timeout certificate")
	}
	if tc.View == 0 {
		return errors.New("view 0 cannot time out")
	}
	if len(tc.HighQCViews) != len(tc.Signers) {
		return errors.New("timeout certificate signer and declaration lengths differ")
	}
	var stake uint64
	var highest uint64
	seen := make(map[string]struct{}, len(tc.Signers))
	for i, signer := range tc.Signers {
		if _, ok := seen[string(signer)]; ok {
			return fmt.Errorf("duplicate signer %X in timeout certificate", truncate(signer, 4))
		}
		seen[string(signer)] = struct{}{}
		member := c.Member(signer, tc.View)
		if member == nil {
			return fmt.Errorf("signer %X is not a committee member for view %d", truncate(signer, 4), tc.View)
		}
		msg := TimeoutSignBytes(tc.View, tc.HighQCViews[i], namespace)
		if !member.Verify(msg, tc.Signatures[i]) {
			return fmt.Errorf("invalid signature from %X in timeout certificate", truncate(signer, 4))
		}
		if tc.HighQCViews[i] > highest {
			highest = tc.HighQCViews[i]
		}
		stake += member.Weight()
	}
	if highest != tc.HighQCView {
		return fmt.Errorf("certificate claims high QC view %d, declarations carry %d", tc.HighQCView, highest)
	}
	if stake != tc.Stake {
		return fmt.Errorf("certificate claims stake %d, signatures carry %d", tc.Stake, stake)
	}
	if threshold := c.QuorumThreshold(tc.View); stake < threshold {
		return fmt.Errorf("certificate stake %d below quorum threshold %d", stake, threshold)
	}
	return nil
}

func (tc *TimeoutCertificate) String() string {
	if tc == nil {
		return "nil"
	}
	return fmt.Sprintf("TC{view %d, high qc %d, stake %d}", tc.View, tc.HighQCView, tc.Stake)
}

// verifySignatureSet verifies that every (signer, signature) pair is a
// distinct committee member's valid signature over msg, returning the
// cumulative stake.
func verifySignatureSet(c committee.Committee, view uint64, signers, signatures [][]byte, msg []byte) (uint64, error) {
	if len(signers) != len(signatures) {
		return 0, fmt.Errorf("signer and signature set lengths differ (%d != %d)", len(signers), len(signatures))
	}
	var stake uint64
	seen := make(map[string]struct{}, len(signers))
	for i, signer := range signers {
		if _, ok := seen[string(signer)]; ok {
			return 0, fmt.Errorf("duplicate signer %X in certificate", truncate(signer, 4))
		}
		seen[string(signer)] = struct{}{}
		member := c.Member(signer, view)
		if member == nil {
			return 0, fmt.Errorf("signer %X is not a committee member for view %d", truncate(signer, 4), view)
		}
		if !member.Verify(msg, signatures[i]) {
			return 0, fmt.Errorf("invalid signature from %X", truncate(signer, 4))
		}
		stake += member.Weight()
	}
	return stake, nil
}

// equalID compares member ids.
func equalID(a, b []byte) bool {
	return bytes.Equal(a, b)
}
