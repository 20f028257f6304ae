package consensus

import (
	"errors"
	"fmt"
)

var (
	// ErrStaleView flags input referencing a view the node has moved past.
	// Expected under normal operation; dropped, never escalated.
	ErrStaleView = errors.New("message is for a stale view")

	// ErrInvalidSignature flags a signature that does not verify against
	// the claimed signer. Expected under adversarial input.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrNotCommitteeMember flags a signer outside the committee for the
	// message's view.
	ErrNotCommitteeMember = errors.New("signer is not a committee member")

	// ErrCertificateFormed is returned when a tally has already produced
	// its certificate; further votes for it are dropped.
	ErrCertificateFormed = errors.New("certificate already formed for this view and kind")
)

// NoVoteError explains why the node declined to vote for a proposal.
// Non-voting is the safety mechanism itself, so this is a sentinel,
// expected during normal operation and never escalated.
type NoVoteError struct {
	Msg string
}

func (e NoVoteError) Error() string { return e.Msg }

func IsNoVoteError(err error) bool {
	var e NoVoteError
	return errors.As(err, &e)
}

// EquivocationError records two conflicting signed messages from the same
// member for the same view and kind. The local decision drops both
// contributions, but the evidence is retained for accountability tooling.
type EquivocationError struct {
	Signer []byte
	View   uint64
	Kind   CertKind
	First  Hash
	Second Hash
}

func (e EquivocationError) Error() string {
	return fmt.Sprintf("equivocation by %X in view %d (%s): %s vs %s",
		truncate(e.Signer, 4), e.View, e.Kind, e.First, e.Second)
}

func IsEquivocationError(err error) bool {
	var e EquivocationError
	return errors.As(err, &e)
}

// InvalidProposalError indicates the proposal failed verification and was
// dropped.
type InvalidProposalError struct {
	View uint64
	Err  error
}

func (e InvalidProposalError) Error() string {
	return fmt.Sprintf("invalid proposal for view %d: %s", e.View, e.Err)
}

func (e InvalidProposalError) Unwrap() error { return e.Err }

func IsInvalidProposalError(err error) bool {
	var e InvalidProposalError
	return errors.As(err, &e)
}

// ConfigurationError indicates a constructor was given invalid or
// inconsistent parameters.
type ConfigurationError struct {
	err error
}

func NewConfigurationErrorf(msg string, args ...interface{}) error {
	return ConfigurationError{fmt.Errorf(msg, args...)}
}

func (e ConfigurationError) Error() string { return e.err.Error() }
func (e ConfigurationError) Unwrap() error { return e.err }

func IsConfigurationError(err error) bool {
	var e ConfigurationError
	return errors.As(err, &e)
}

// unrecoverable errors indicate that the consensus engine is in a state
// that is not recoverable. The engine logs the error and shuts down.
type errUnrecoverable struct {
	err error
}

func unrecoverable(err error) error {
	return errUnrecoverable{err: err}
}

func isUnrecoverable(err error) bool {
	var e errUnrecoverable
	return errors.As(err, &e)
}

func (e errUnrecoverable) Error() string {
	return fmt.Sprintf("unrecoverable error: %s", e.err)
}

func (e errUnrecoverable) Unwrap() error { return e.err }
