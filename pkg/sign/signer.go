package sign

import (
	"context"
	"fmt"
)

// Signer is a service that securely manages a node's private key and signs
// votes, timeout votes and proposals for the consensus engine.
//
// The signer must ensure that the node never double signs. This usually
// means implementing a high-water mark tracking the view and kind of the
// last signed message.
//
// Make sure the committee's verify function corresponds to the signature
// scheme used by the signer.
type Signer interface {
	// ID returns a unique identifier for the signer that is used to
	// identify the member within the committee. This must always return
	// the same value.
	ID() []byte

	Sign(ctx context.Context, mark Watermark, msg []byte) ([]byte, error)
}

type ErrAlreadySigned Watermark

func (e ErrAlreadySigned) Error() string {
	return fmt.Sprintf("already signed msg at mark %d", []uint64(e))
}

// Watermark orders signable messages. A signer refuses to sign anything
// not strictly above its current mark. Consensus messages use
// (view, kind) so a node can sign at most one message of each kind per
// view.
type Watermark []uint64

func (w Watermark) Greater(other Watermark) bool {
	for idx, v := range w {
		if idx >= len(other) {
			return true
		}
		if v > other[idx] {
			return true
		}
		if v < other[idx] {
			return false
		}
	}
	return false
}
