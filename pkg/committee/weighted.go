package committee

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var _ Committee = (*Weighted)(nil)

// Weighted is a fixed membership set that rotates leadership across views
// using the weighted round robin algorithm: each view every member's
// proposer priority is incremented by its voting power, the member with the
// highest priority leads the view and is then docked the total voting power
// of the committee. Over many views each member leads proportionally to its
// stake.
type Weighted struct {
	mu sync.Mutex

	members []Member
	byID    map[string]int
	total   uint64

	// rotation state: priorities hold the proposer priorities after having
	// assigned a leader to every view below nextView.
	priorities []int64
	nextView   uint64
	leaderIdx  int
}

// NewWeighted creates a committee from the given member set. Members with
// zero voting power and duplicate ids are rejected.
func NewWeighted(members []Member) (*Weighted, error) {
	if len(members) == 0 {
		return nil, errors.New("committee must have at least one member")
	}

	sorted := make([]Member, len(members))
	copy(sorted, members)
	// canonical ordering: descending weight, ties broken by id
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Weight() == sorted[j].Weight() {
			return bytes.Compare(sorted[i].ID(), sorted[j].ID()) < 0
		}
		return sorted[i].Weight() > sorted[j].Weight()
	})

	var total uint64
	byID := make(map[string]int, len(sorted))
	for idx, m := range sorted {
		if m.Weight() == 0 {
			return nil, fmt.Errorf("member %X has 0 voting power", m.ID())
		}
		if _, ok := byID[string(m.ID())]; ok {
			return nil, fmt.Errorf("duplicate member id %X", m.ID())
		}
		byID[string(m.ID())] = idx
		total += m.Weight()
	}

	return &Weighted{
		members:    sorted,
		byID:       byID,
		total:      total,
		priorities: make([]int64, len(sorted)),
	}, nil
}

// LeaderFor returns the deterministic leader of the given view.
func (c *Weighted) LeaderFor(view uint64) Member {
	c.mu.Lock()
	defer c.mu.Unlock()
	if view < c.nextView {
		// a query below the cached rotation point replays the
		// rotation from genesis
		c.priorities = make([]int64, len(c.members))
		c.nextView = 0
	}
	for c.nextView <= view {
		c.advance()
	}
	return c.members[c.leaderIdx]
}

// advance assigns a leader to view c.nextView and moves the rotation
// state one view forward.
func (c *Weighted) advance() {
	best := 0
	for i := range c.priorities {
		c.priorities[i] += int64(c.members[i].Weight())
		if c.priorities[i] > c.priorities[best] {
			best = i
		}
	}
	c.leaderIdx = best
	c.priorities[best] -= int64(c.total)
	c.nextView++
}

func (c *Weighted) VotingPower(id []byte, _ uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.byID[string(id)]
	if !ok {
		return 0
	}
	return c.members[idx].Weight()
}

// QuorumThreshold returns the smallest stake T satisfying 3T > 2*total,
// the weighted equivalent of 2f+1 out of 3f+1 equal-stake nodes.
func (c *Weighted) QuorumThreshold(_ uint64) uint64 {
	return c.total*2/3 + 1
}

func (c *Weighted) IsMember(id []byte, _ uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.byID[string(id)]
	return ok
}

func (c *Weighted) Member(id []byte, _ uint64) Member {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.byID[string(id)]
	if !ok {
		return nil
	}
	return c.members[idx]
}

func (c *Weighted) TotalWeight(_ uint64) uint64 {
	return c.total
}

func (c *Weighted) Members(_ uint64) []Member {
	c.mu.Lock()
	defer c.mu.Unlock()
	members := make([]Member, len(c.members))
	copy(members, c.members)
	return members
}

func (c *Weighted) Size(_ uint64) int {
	return len(c.members)
}
