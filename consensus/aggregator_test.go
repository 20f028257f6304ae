package consensus

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/miles-six/hotshot/pkg/committee"
)

var testNamespace = []byte("aggregator-test")

type testMember struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

func (m *testMember) vote(view uint64, leaf Hash) *Vote {
	sig := ed25519.Sign(m.priv, VoteSignBytes(view, leaf, testNamespace))
	return &Vote{View: view, Leaf: leaf, Signer: m.pub, Signature: sig}
}

func (m *testMember) timeoutVote(view, highQCView uint64) *TimeoutVote {
	sig := ed25519.Sign(m.priv, TimeoutSignBytes(view, highQCView, testNamespace))
	return &TimeoutVote{View: view, HighQCView: highQCView, Signer: m.pub, Signature: sig}
}

// newTestCommittee creates one member per weight.
func newTestCommittee(t *testing.T, weights ...uint64) ([]*testMember, committee.Committee) {
	t.Helper()
	members := make([]*testMember, len(weights))
	committeeMembers := make([]committee.Member, len(weights))
	for i, w := range weights {
		pub, priv, err := ed25519.GenerateKey(nil)
		require.NoError(t, err)
		members[i] = &testMember{priv: priv, pub: pub}
		committeeMembers[i] = committee.NewWeightedMember(pub, w, committee.DefaultVerifyFunc())
	}
	c, err := committee.NewWeighted(committeeMembers)
	require.NoError(t, err)
	return members, c
}

func TestAggregatorQuorumBoundary(t *testing.T) {
	// four members of one unit each: quorum needs three
	members, c := newTestCommittee(t, 1, 1, 1, 1)
	leaf := HashOf([]byte("leaf"))
	agg := NewAggregator(2, QuorumCert, c, testNamespace)

	for i := 0; i < 2; i++ {
		result, err := agg.AddVote(members[i].vote(2, leaf))
		require.NoError(t, err)
		require.Equal(t, VotePending, result.Status)
	}
	require.False(t, agg.Formed())

	result, err := agg.AddVote(members[2].vote(2, leaf))
	require.NoError(t, err)
	require.Equal(t, CertFormed, result.Status)
	require.NotNil(t, result.QC)
	require.Equal(t, uint64(2), result.QC.View)
	require.Equal(t, leaf, result.QC.Leaf)
	require.Equal(t, uint64(3), result.QC.Stake)
	require.Len(t, result.QC.Signers, 3)
	require.NoError(t, result.QC.Verify(c, testNamespace))
}

func TestAggregatorStakeWeighted(t *testing.T) {
	// total 6, threshold 5: the heavy member alone cannot certify
	members, c := newTestCommittee(t, 3, 1, 1, 1)
	leaf := HashOf([]byte("leaf"))
	agg := NewAggregator(1, QuorumCert, c, testNamespace)

	result, err := agg.AddVote(members[0].vote(1, leaf))
	require.NoError(t, err)
	require.Equal(t, VotePending, result.Status)

	result, err = agg.AddVote(members[1].vote(1, leaf))
	require.NoError(t, err)
	require.Equal(t, VotePending, result.Status)

	result, err = agg.AddVote(members[2].vote(1, leaf))
	require.NoError(t, err)
	require.Equal(t, CertFormed, result.Status)
	require.Equal(t, uint64(5), result.QC.Stake)
}

func TestAggregatorDuplicateVoteIsNoOp(t *testing.T) {
	members, c := newTestCommittee(t, 1, 1, 1, 1)
	leaf := HashOf([]byte("leaf"))
	agg := NewAggregator(1, QuorumCert, c, testNamespace)

	vote := members[0].vote(1, leaf)
	for i := 0; i < 3; i++ {
		result, err := agg.AddVote(vote)
		require.NoError(t, err)
		require.Equal(t, VotePending, result.Status)
	}

	// two more distinct voters are still needed
	_, err := agg.AddVote(members[1].vote(1, leaf))
	require.NoError(t, err)
	require.False(t, agg.Formed())

	result, err := agg.AddVote(members[2].vote(1, leaf))
	require.NoError(t, err)
	require.Equal(t, CertFormed, result.Status)
}

func TestAggregatorEquivocation(t *testing.T) {
	members, c := newTestCommittee(t, 1, 1, 1, 1)
	leafA := HashOf([]byte("a"))
	leafB := HashOf([]byte("b"))
	agg := NewAggregator(1, QuorumCert, c, testNamespace)

	_, err := agg.AddVote(members[0].vote(1, leafA))
	require.NoError(t, err)

	// the conflicting vote is flagged and the first contribution retracted
	result, err := agg.AddVote(members[0].vote(1, leafB))
	require.True(t, IsEquivocationError(err))
	require.Equal(t, VoteRejected, result.Status)
	require.Len(t, agg.Equivocations(), 1)

	// the equivocator counts towards neither tally: three honest votes
	// are still required
	_, err = agg.AddVote(members[1].vote(1, leafA))
	require.NoError(t, err)
	_, err = agg.AddVote(members[2].vote(1, leafA))
	require.NoError(t, err)
	require.False(t, agg.Formed())

	result, err = agg.AddVote(members[3].vote(1, leafA))
	require.NoError(t, err)
	require.Equal(t, CertFormed, result.Status)
	for _, signer := range result.QC.Signers {
		require.NotEqual(t, []byte(members[0].pub), signer)
	}
}

func TestAggregatorSingleCertificate(t *testing.T) {
	members, c := newTestCommittee(t, 1, 1, 1, 1)
	leaf := HashOf([]byte("leaf"))
	agg := NewAggregator(1, QuorumCert, c, testNamespace)

	for i := 0; i < 3; i++ {
		_, err := agg.AddVote(members[i].vote(1, leaf))
		require.NoError(t, err)
	}
	require.True(t, agg.Formed())

	result, err := agg.AddVote(members[3].vote(1, leaf))
	require.ErrorIs(t, err, ErrCertificateFormed)
	require.Equal(t, VoteRejected, result.Status)
}

func TestAggregatorRejectsInvalidVotes(t *testing.T) {
	members, c := newTestCommittee(t, 1, 1, 1, 1)
	leaf := HashOf([]byte("leaf"))
	agg := NewAggregator(1, QuorumCert, c, testNamespace)

	// non-member
	outsider, _ := newTestCommittee(t, 1)
	_, err := agg.AddVote(outsider[0].vote(1, leaf))
	require.ErrorIs(t, err, ErrNotCommitteeMember)

	// wrong signature
	vote := members[0].vote(1, leaf)
	vote.Signature = []byte("garbage")
	_, err = agg.AddVote(vote)
	require.ErrorIs(t, err, ErrInvalidSignature)

	// wrong view
	_, err = agg.AddVote(members[0].vote(2, leaf))
	require.ErrorIs(t, err, ErrStaleView)
}

func TestTimeoutAggregation(t *testing.T) {
	members, c := newTestCommittee(t, 1, 1, 1, 1)
	agg := NewAggregator(4, TimeoutCert, c, testNamespace)

	// members declare different high QC views; the certificate records
	// the maximum
	_, err := agg.AddTimeoutVote(members[0].timeoutVote(4, 2))
	require.NoError(t, err)
	_, err = agg.AddTimeoutVote(members[1].timeoutVote(4, 3))
	require.NoError(t, err)

	result, err := agg.AddTimeoutVote(members[2].timeoutVote(4, 1))
	require.NoError(t, err)
	require.Equal(t, CertFormed, result.Status)
	require.NotNil(t, result.TC)
	require.Equal(t, uint64(4), result.TC.View)
	require.Equal(t, uint64(3), result.TC.HighQCView)
	require.NoError(t, result.TC.Verify(c, testNamespace))
}

func TestCollectorsPruning(t *testing.T) {
	members, c := newTestCommittee(t, 1, 1, 1, 1)
	collectors := NewCollectors(c, testNamespace)

	agg, err := collectors.GetOrCreate(5, QuorumCert)
	require.NoError(t, err)
	_, err = agg.AddVote(members[0].vote(5, HashOf([]byte("a"))))
	require.NoError(t, err)
	_, aggErr := agg.AddVote(members[0].vote(5, HashOf([]byte("b"))))
	require.True(t, IsEquivocationError(aggErr))

	collectors.PruneUpTo(6)

	_, err = collectors.GetOrCreate(5, QuorumCert)
	require.ErrorIs(t, err, ErrStaleView)

	// evidence survives pruning
	require.Len(t, collectors.Equivocations(), 1)

	_, err = collectors.GetOrCreate(6, TimeoutCert)
	require.NoError(t, err)
}
