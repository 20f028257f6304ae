package committee_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/miles-six/hotshot/pkg/committee"
)

func member(id byte, weight uint64) committee.Member {
	return committee.NewWeightedMember([]byte{id}, weight, committee.DefaultVerifyFunc())
}

func TestLeaderRotationIsDeterministic(t *testing.T) {
	newCommittee := func() *committee.Weighted {
		c, err := committee.NewWeighted([]committee.Member{
			member(1, 10), member(2, 20), member(3, 30),
		})
		require.NoError(t, err)
		return c
	}

	a, b := newCommittee(), newCommittee()
	for view := uint64(0); view < 100; view++ {
		require.Equal(t, a.LeaderFor(view).ID(), b.LeaderFor(view).ID(), "view %d", view)
	}
}

func TestLeaderRotationProportionalToStake(t *testing.T) {
	c, err := committee.NewWeighted([]committee.Member{
		member(1, 1), member(2, 2), member(3, 3),
	})
	require.NoError(t, err)

	counts := make(map[byte]int)
	for view := uint64(0); view < 600; view++ {
		counts[c.LeaderFor(view).ID()[0]]++
	}
	require.Equal(t, 100, counts[1])
	require.Equal(t, 200, counts[2])
	require.Equal(t, 300, counts[3])
}

func TestLeaderForPastViewReplays(t *testing.T) {
	c, err := committee.NewWeighted([]committee.Member{
		member(1, 5), member(2, 7),
	})
	require.NoError(t, err)

	want := make([][]byte, 20)
	for view := uint64(0); view < 20; view++ {
		want[view] = c.LeaderFor(view).ID()
	}
	// querying out of order must return the same assignment
	for view := int64(19); view >= 0; view-- {
		require.Equal(t, want[view], c.LeaderFor(uint64(view)).ID())
	}
}

func TestQuorumThreshold(t *testing.T) {
	testCases := []struct {
		weights   []uint64
		threshold uint64
	}{
		{[]uint64{1, 1, 1, 1}, 3},
		{[]uint64{25, 25, 25, 25}, 67},
		{[]uint64{1, 1, 1}, 3},
		{[]uint64{10, 20, 30, 40}, 67},
	}
	for _, tc := range testCases {
		t.Run(fmt.Sprintf("%v", tc.weights), func(t *testing.T) {
			members := make([]committee.Member, len(tc.weights))
			for i, w := range tc.weights {
				members[i] = member(byte(i+1), w)
			}
			c, err := committee.NewWeighted(members)
			require.NoError(t, err)
			require.Equal(t, tc.threshold, c.QuorumThreshold(0))
		})
	}
}

func TestMembershipQueries(t *testing.T) {
	c, err := committee.NewWeighted([]committee.Member{
		member(1, 10), member(2, 20),
	})
	require.NoError(t, err)

	require.True(t, c.IsMember([]byte{1}, 0))
	require.False(t, c.IsMember([]byte{9}, 0))
	require.EqualValues(t, 20, c.VotingPower([]byte{2}, 0))
	require.EqualValues(t, 0, c.VotingPower([]byte{9}, 0))
	require.Nil(t, c.Member([]byte{9}, 0))
	require.EqualValues(t, 30, c.TotalWeight(0))
	require.Equal(t, 2, c.Size(0))
}

func TestRejectsInvalidMemberSets(t *testing.T) {
	_, err := committee.NewWeighted(nil)
	require.Error(t, err)

	_, err = committee.NewWeighted([]committee.Member{member(1, 0)})
	require.Error(t, err)

	_, err = committee.NewWeighted([]committee.Member{member(1, 5), member(1, 6)})
	require.Error(t, err)
}
