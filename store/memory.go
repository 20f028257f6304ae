package store

import (
	"sync"

	"github.com/miles-six/hotshot/consensus"
)

// Memory keeps consensus state in process memory. It satisfies the
// persister contract for tests and throwaway networks but provides no
// crash recovery.
type Memory struct {
	mu       sync.Mutex
	safety   *consensus.SafetyData
	liveness *consensus.LivenessData
}

var _ consensus.Persister = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{}
}

func (s *Memory) PutSafetyData(data *consensus.SafetyData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *data
	s.safety = &clone
	return nil
}

func (s *Memory) GetSafetyData() (*consensus.SafetyData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.safety == nil {
		return nil, nil
	}
	clone := *s.safety
	return &clone, nil
}

func (s *Memory) PutLivenessData(data *consensus.LivenessData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *data
	s.liveness = &clone
	return nil
}

func (s *Memory) GetLivenessData() (*consensus.LivenessData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.liveness == nil {
		return nil, nil
	}
	clone := *s.liveness
	return &clone, nil
}
