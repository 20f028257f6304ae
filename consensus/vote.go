package consensus

import (
	"errors"
	"fmt"
)

// Vote is a member's signed endorsement of a leaf in a view.
type Vote struct {
	View      uint64
	Leaf      Hash
	Signer    []byte
	Signature []byte
}

func (v *Vote) ValidateForm() error {
	if v == nil {
		return errors.New("nil vote")
	}
	if v.Leaf.IsZero() {
		return errors.New("vote does not reference a leaf")
	}
	if len(v.Signer) == 0 {
		return errors.New("vote does not identify its signer")
	}
	if len(v.Signature) == 0 {
		return errors.New("vote does not contain a signature")
	}
	return nil
}

func (v *Vote) String() string {
	if v == nil {
		return "nil"
	}
	return fmt.Sprintf("Vote{%s @ %d by %X}", v.Leaf, v.View, truncate(v.Signer, 4))
}

// TimeoutVote is a member's signed declaration that it has given up on a
// view. It carries the view of the highest QC the sender knows so the next
// leader can pick the freshest justification once a TC forms.
type TimeoutVote struct {
	View       uint64
	HighQCView uint64
	Signer     []byte
	Signature  []byte
}

func (v *TimeoutVote) ValidateForm() error {
	if v == nil {
		return errors.New("nil timeout vote")
	}
	if v.HighQCView >= v.View && v.View != 0 {
		return fmt.Errorf("timeout vote for view %d claims a QC at view %d", v.View, v.HighQCView)
	}
	if len(v.Signer) == 0 {
		return errors.New("timeout vote does not identify its signer")
	}
	if len(v.Signature) == 0 {
		return errors.New("timeout vote does not contain a signature")
	}
	return nil
}

func (v *TimeoutVote) String() string {
	if v == nil {
		return "nil"
	}
	return fmt.Sprintf("TimeoutVote{view %d, high qc %d, by %X}", v.View, v.HighQCView, truncate(v.Signer, 4))
}
