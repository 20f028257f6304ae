package committee

import (
	"context"
	"crypto/ed25519"
)

type (
	// Committee is the membership and stake oracle consumed by the consensus
	// core. It answers who leads a view, how much voting power a member
	// carries and how much cumulative power is needed to form a certificate.
	// Implementations must be deterministic: all correct nodes observing the
	// same view must receive the same answers.
	Committee interface {
		// LeaderFor returns the member designated to propose in the given view.
		LeaderFor(view uint64) Member

		// VotingPower returns the stake of the member for the given view,
		// or 0 if the id is not part of the committee.
		VotingPower(id []byte, view uint64) uint64

		// QuorumThreshold returns the minimum cumulative stake required to
		// form a certificate in the given view.
		QuorumThreshold(view uint64) uint64

		// IsMember reports whether the id belongs to the committee for the view.
		IsMember(id []byte, view uint64) bool

		// Member performs a lookup by id, returning nil if unknown.
		Member(id []byte, view uint64) Member

		// TotalWeight returns the summed stake of all members for the view.
		TotalWeight(view uint64) uint64

		// Members returns the full membership for the view, ordered by the
		// committee's canonical ordering.
		Members(view uint64) []Member

		// Size returns the number of members for the view.
		Size(view uint64) int
	}

	// Member is a single weighted participant of the committee.
	Member interface {
		ID() []byte
		Weight() uint64
		Verify(msg, sig []byte) bool
	}

	// VerifyFunc dictates how signatures from members are verified. This
	// needs to match the key protocol of the signer.
	VerifyFunc func(publicKey, message, signature []byte) bool
)

// DefaultVerifyFunc defaults to ed25519
func DefaultVerifyFunc() VerifyFunc {
	return func(publicKey, message, signature []byte) bool {
		return ed25519.Verify(publicKey, message, signature)
	}
}

var _ Member = (*WeightedMember)(nil)

// WeightedMember is the standard committee member: a public key paired with
// its voting power.
type WeightedMember struct {
	pubKey []byte
	weight uint64
	verify VerifyFunc
}

func NewWeightedMember(publicKey []byte, weight uint64, verify VerifyFunc) *WeightedMember {
	return &WeightedMember{
		pubKey: publicKey,
		weight: weight,
		verify: verify,
	}
}

func (m *WeightedMember) ID() []byte {
	return m.pubKey
}

func (m *WeightedMember) Weight() uint64 {
	return m.weight
}

func (m *WeightedMember) Verify(msg, sig []byte) bool {
	return m.verify(m.pubKey, msg, sig)
}

// Provider yields the committee in force for a given view. It exists so that
// membership schemes which rotate across epochs can be substituted without
// touching the consensus core. An error here shuts the engine down gracefully.
type Provider interface {
	Committee(ctx context.Context, view uint64) (Committee, error)
}

// StaticProvider wraps a fixed committee as a Provider.
type StaticProvider struct {
	committee Committee
}

func NewStaticProvider(c Committee) *StaticProvider {
	return &StaticProvider{committee: c}
}

func (p *StaticProvider) Committee(context.Context, uint64) (Committee, error) {
	return p.committee, nil
}
