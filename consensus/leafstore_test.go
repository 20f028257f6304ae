package consensus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLeafStoreAncestry(t *testing.T) {
	genesis := GenesisLeaf([]byte("store-test"))
	store := NewLeafStore(genesis)

	leaf1 := extend(genesis, 1, "one")
	leaf2 := extend(leaf1, 2, "two")
	leaf3 := extend(leaf2, 3, "three")
	fork2 := extend(leaf1, 2, "fork")
	for _, leaf := range []*Leaf{leaf1, leaf2, leaf3, fork2} {
		store.Add(leaf)
	}

	require.True(t, store.Extends(leaf3, genesis.ID()))
	require.True(t, store.Extends(leaf3, leaf1.ID()))
	require.True(t, store.Extends(leaf3, leaf2.ID()))
	require.True(t, store.Extends(leaf3, leaf3.ID()))

	// a sibling branch is not an ancestor
	require.False(t, store.Extends(leaf3, fork2.ID()))
	require.False(t, store.Extends(fork2, leaf2.ID()))

	// unknown ancestor
	require.False(t, store.Extends(leaf3, HashOf([]byte("nowhere"))))
}

func TestLeafStoreDuplicateAdd(t *testing.T) {
	genesis := GenesisLeaf([]byte("store-test"))
	store := NewLeafStore(genesis)
	leaf1 := extend(genesis, 1, "one")

	store.Add(leaf1)
	store.Add(leaf1)
	require.Equal(t, 2, store.Size()) // genesis + leaf1
}

func TestLeafStorePruning(t *testing.T) {
	genesis := GenesisLeaf([]byte("store-test"))
	store := NewLeafStore(genesis)

	parent := genesis
	var leaves []*Leaf
	for view := uint64(1); view <= 5; view++ {
		leaf := extend(parent, view, "p")
		store.Add(leaf)
		leaves = append(leaves, leaf)
		parent = leaf
	}

	store.PruneBelow(4)
	require.Equal(t, 2, store.Size())

	// pruned leaves remain queryable through the recent cache, so late
	// votes can still be checked against them
	require.True(t, store.Has(leaves[0].ID()))
	require.NotNil(t, store.Get(leaves[1].ID()))

	// ancestry across the pruned boundary still resolves
	require.True(t, store.Extends(leaves[4], leaves[2].ID()))
}
