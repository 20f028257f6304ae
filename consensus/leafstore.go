package consensus

import (
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// recentLeafCacheSize bounds how many pruned leaves remain queryable for
// late votes and peers catching up.
const recentLeafCacheSize = 512

// LeafStore tracks the uncommitted portion of the leaf chain plus a
// bounded cache of recently pruned leaves. It is the safety engine's view
// of ancestry; pruning below the committed view keeps it from growing
// under sustained view churn.
type LeafStore struct {
	mu     sync.RWMutex
	leaves map[Hash]*Leaf
	byView map[uint64][]Hash
	recent *lru.Cache
}

func NewLeafStore(genesis *Leaf) *LeafStore {
	recent, err := lru.New(recentLeafCacheSize)
	if err != nil {
		panic(err)
	}
	s := &LeafStore{
		leaves: make(map[Hash]*Leaf),
		byView: make(map[uint64][]Hash),
		recent: recent,
	}
	s.add(genesis)
	return s
}

// Add records a leaf. Duplicates are no-ops.
func (s *LeafStore) Add(leaf *Leaf) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.add(leaf)
}

func (s *LeafStore) add(leaf *Leaf) {
	id := leaf.ID()
	if _, ok := s.leaves[id]; ok {
		return
	}
	s.leaves[id] = leaf
	s.byView[leaf.View] = append(s.byView[leaf.View], id)
}

// Get returns the leaf by hash, consulting the recent cache for pruned
// leaves.
func (s *LeafStore) Get(id Hash) *Leaf {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if leaf, ok := s.leaves[id]; ok {
		return leaf
	}
	if cached, ok := s.recent.Get(id); ok {
		return cached.(*Leaf)
	}
	return nil
}

// Has reports whether the leaf is known, live or cached.
func (s *LeafStore) Has(id Hash) bool {
	return s.Get(id) != nil
}

// Extends reports whether walking parent links from the given leaf reaches
// ancestor before passing below the ancestor's view. An unknown link in
// the walk returns false.
func (s *LeafStore) Extends(leaf *Leaf, ancestor Hash) bool {
	target := s.Get(ancestor)
	if target == nil {
		return false
	}
	for current := leaf; current != nil; current = s.Get(current.Parent) {
		if current.ID() == ancestor {
			return true
		}
		if current.View <= target.View {
			return false
		}
	}
	return false
}

// PruneBelow evicts leaves with views strictly below the given view into
// the bounded recent cache.
func (s *LeafStore) PruneBelow(view uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for v, ids := range s.byView {
		if v >= view {
			continue
		}
		for _, id := range ids {
			if leaf, ok := s.leaves[id]; ok {
				s.recent.Add(id, leaf)
				delete(s.leaves, id)
			}
		}
		delete(s.byView, v)
	}
}

// Size returns the number of live (unpruned) leaves.
func (s *LeafStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.leaves)
}
