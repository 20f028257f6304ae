package consensus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/miles-six/hotshot/pkg/committee"
	"github.com/miles-six/hotshot/pkg/sign"
)

type recordingSender struct {
	mu           sync.Mutex
	proposals    []*Proposal
	votes        []*Vote
	timeoutVotes []*TimeoutVote
	qcs          []*QuorumCertificate
	tcs          []*TimeoutCertificate
}

func (s *recordingSender) BroadcastProposal(_ context.Context, p *Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proposals = append(s.proposals, p)
	return nil
}

func (s *recordingSender) BroadcastVote(_ context.Context, v *Vote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.votes = append(s.votes, v)
	return nil
}

func (s *recordingSender) BroadcastTimeoutVote(_ context.Context, v *TimeoutVote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeoutVotes = append(s.timeoutVotes, v)
	return nil
}

func (s *recordingSender) BroadcastQC(_ context.Context, qc *QuorumCertificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.qcs = append(s.qcs, qc)
	return nil
}

func (s *recordingSender) BroadcastTC(_ context.Context, tc *TimeoutCertificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tcs = append(s.tcs, tc)
	return nil
}

func (s *recordingSender) timeoutVoteCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timeoutVotes)
}

type staticApp struct{}

func (staticApp) BuildPayload(_ context.Context, view uint64) ([]byte, error) {
	return []byte{byte(view)}, nil
}

func (staticApp) VerifyPayload(context.Context, uint64, []byte) error { return nil }

func testEngineParams() Parameters {
	params := DefaultParameters("engine-test")
	params.Timeout = testTimeoutConfig()
	return params
}

// soloEngine runs a committee of one, where every proposal self-certifies.
func soloEngine(t *testing.T) (*Engine, *recordingSender, *memPersister) {
	t.Helper()
	signer := sign.NewTestSigner()
	com, err := committee.NewWeighted([]committee.Member{signer.ToMember(1)})
	require.NoError(t, err)

	sender := &recordingSender{}
	persist := &memPersister{}
	engine, err := New(testEngineParams(), com, staticApp{}, sender, persist, signer,
		WithLogger(testLogger()))
	require.NoError(t, err)
	return engine, sender, persist
}

func TestEngineSoloCommits(t *testing.T) {
	engine, sender, persist := soloEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, engine.Start(ctx))
	defer engine.Stop()

	// a single member is its own quorum: proposals certify themselves
	// and the chain finalizes continuously
	var commits []CommitEvent
	deadline := time.After(10 * time.Second)
	for len(commits) < 3 {
		select {
		case commit := <-engine.Finalized():
			commits = append(commits, commit)
		case <-deadline:
			t.Fatalf("got %d commits", len(commits))
		}
	}
	require.Equal(t, uint64(1), commits[0].Leaf.View)
	require.Equal(t, uint64(2), commits[1].Leaf.View)
	require.Equal(t, uint64(3), commits[2].Leaf.View)

	sender.mu.Lock()
	require.NotEmpty(t, sender.proposals)
	require.NotEmpty(t, sender.votes)
	sender.mu.Unlock()

	require.NoError(t, engine.Stop())
	require.NotNil(t, persist.safety)
	require.GreaterOrEqual(t, persist.safety.CommittedView, uint64(1))
	require.NotNil(t, persist.liveness)
}

func TestEngineObserverNeverSigns(t *testing.T) {
	// the observer follows a committee it is not part of
	voter := sign.NewTestSigner()
	com, err := committee.NewWeighted([]committee.Member{voter.ToMember(1)})
	require.NoError(t, err)

	sender := &recordingSender{}
	engine, err := New(testEngineParams(), com, staticApp{}, sender, &memPersister{}, nil,
		WithLogger(testLogger()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, engine.Start(ctx))
	defer engine.Stop()

	// let a few view timeouts pass
	time.Sleep(500 * time.Millisecond)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	require.Empty(t, sender.proposals)
	require.Empty(t, sender.votes)
	require.Empty(t, sender.timeoutVotes)
}

func TestEngineTimeoutRebroadcast(t *testing.T) {
	// two members, but only this engine runs: no view can certify, so it
	// keeps re-announcing its timeout vote
	signer := sign.NewTestSigner()
	other := sign.NewTestSigner()
	com, err := committee.NewWeighted([]committee.Member{signer.ToMember(1), other.ToMember(1)})
	require.NoError(t, err)

	sender := &recordingSender{}
	engine, err := New(testEngineParams(), com, staticApp{}, sender, &memPersister{}, signer,
		WithLogger(testLogger()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, engine.Start(ctx))
	defer engine.Stop()

	require.Eventually(t, func() bool {
		return sender.timeoutVoteCount() >= 2
	}, 5*time.Second, 20*time.Millisecond)

	// every announcement is the identical signed vote
	sender.mu.Lock()
	defer sender.mu.Unlock()
	first := sender.timeoutVotes[0]
	for _, vote := range sender.timeoutVotes[1:] {
		if vote.View != first.View {
			break
		}
		require.Equal(t, first.Signature, vote.Signature)
	}
}

func TestEngineStartIdempotent(t *testing.T) {
	engine, _, _ := soloEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, engine.Start(ctx))
	require.NoError(t, engine.Start(ctx))
	require.NoError(t, engine.Stop())
	require.NoError(t, engine.Stop())
}
