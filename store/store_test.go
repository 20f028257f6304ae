package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/miles-six/hotshot/consensus"
)

func sampleState(t *testing.T) (*consensus.SafetyData, *consensus.LivenessData) {
	t.Helper()
	genesis := consensus.GenesisLeaf([]byte("store-test"))
	qc := &consensus.QuorumCertificate{
		View:       7,
		Leaf:       genesis.ID(),
		Signers:    [][]byte{[]byte("a"), []byte("b"), []byte("c")},
		Signatures: [][]byte{[]byte("sa"), []byte("sb"), []byte("sc")},
		Stake:      3,
	}
	tc := &consensus.TimeoutCertificate{
		View:        8,
		HighQCView:  7,
		Signers:     [][]byte{[]byte("a"), []byte("b"), []byte("c")},
		Signatures:  [][]byte{[]byte("ta"), []byte("tb"), []byte("tc")},
		HighQCViews: []uint64{7, 6, 7},
		Stake:       3,
	}
	safety := &consensus.SafetyData{
		LockedQC:      qc,
		CommittedLeaf: genesis.ID(),
		CommittedView: 4,
		LastVotedView: 8,
	}
	liveness := &consensus.LivenessData{
		CurrentView: 9,
		HighQC:      qc,
		LastViewTC:  tc,
	}
	return safety, liveness
}

func testPersister(t *testing.T, p consensus.Persister) {
	t.Helper()

	// a fresh store holds nothing
	got, err := p.GetSafetyData()
	require.NoError(t, err)
	require.Nil(t, got)
	live, err := p.GetLivenessData()
	require.NoError(t, err)
	require.Nil(t, live)

	safety, liveness := sampleState(t)
	require.NoError(t, p.PutSafetyData(safety))
	require.NoError(t, p.PutLivenessData(liveness))

	got, err = p.GetSafetyData()
	require.NoError(t, err)
	require.Equal(t, safety, got)
	live, err = p.GetLivenessData()
	require.NoError(t, err)
	require.Equal(t, liveness, live)

	// later writes overwrite
	safety.LastVotedView = 12
	require.NoError(t, p.PutSafetyData(safety))
	got, err = p.GetSafetyData()
	require.NoError(t, err)
	require.Equal(t, uint64(12), got.LastVotedView)
}

func TestMemoryPersister(t *testing.T) {
	testPersister(t, NewMemory())
}

func TestBadgerPersister(t *testing.T) {
	db, err := OpenBadger(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	testPersister(t, db)
}

func TestBadgerSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	db, err := OpenBadger(dir)
	require.NoError(t, err)
	safety, liveness := sampleState(t)
	require.NoError(t, db.PutSafetyData(safety))
	require.NoError(t, db.PutLivenessData(liveness))
	require.NoError(t, db.Close())

	db, err = OpenBadger(dir)
	require.NoError(t, err)
	defer db.Close()

	got, err := db.GetSafetyData()
	require.NoError(t, err)
	require.Equal(t, safety, got)
	live, err := db.GetLivenessData()
	require.NoError(t, err)
	require.Equal(t, liveness, live)
}
