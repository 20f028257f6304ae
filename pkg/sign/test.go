package sign

import (
	"context"
	"crypto/ed25519"
	"sync"

	"github.com/miles-six/hotshot/pkg/committee"
)

// TestSigner is an in-memory ed25519 signer with watermark tracking,
// intended for tests and local networks.
type TestSigner struct {
	mu         sync.Mutex
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	mark       Watermark
}

func NewTestSigner() *TestSigner {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		panic(err)
	}
	return &TestSigner{
		privateKey: priv,
		publicKey:  pub,
	}
}

func (s *TestSigner) Sign(_ context.Context, mark Watermark, msg []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !mark.Greater(s.mark) {
		return nil, ErrAlreadySigned(s.mark)
	}
	s.mark = mark
	return ed25519.Sign(s.privateKey, msg), nil
}

func (s *TestSigner) ID() []byte {
	return s.publicKey
}

func (s *TestSigner) PublicKey() ed25519.PublicKey {
	return s.publicKey
}

func (s *TestSigner) Mark() Watermark {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mark
}

func (s *TestSigner) ToMember(weight uint64) committee.Member {
	return committee.NewWeightedMember(s.publicKey, weight, committee.DefaultVerifyFunc())
}
