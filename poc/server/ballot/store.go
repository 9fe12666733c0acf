package ballot

import (
	"math/big"
	"sync"

	"go.uber.org/zap"

	"github.com/margo/trusted-tally/poc/types"
)

// Store is the append-only, insertion-ordered ballot sequence of a single
// election. It lives in memory only.
type Store struct {
	mu      sync.RWMutex
	ballots []Ballot
	scheme  Scheme
	logger  *zap.SugaredLogger
}

func NewStore(scheme Scheme, logger *zap.SugaredLogger) *Store {
	return &Store{scheme: scheme, logger: logger}
}

// Submit appends b and returns its 1-based position.
func (s *Store) Submit(b Ballot) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ballots = append(s.ballots, b)
	return len(s.ballots)
}

// Combine multiplies every stored c1 (and separately every c2) modulo the
// scheme modulus, in insertion order. It does not drain the store, so
// repeated calls over the same ballots return identical aggregates.
func (s *Store) Combine() (AggregateBallot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.ballots) == 0 {
		return AggregateBallot{}, types.NewTallyError(types.ComponentBallotStore, types.OperationCombine, types.ErrEmptyBallotSet, nil, false)
	}

	m := s.scheme.Modulus
	c1 := big.NewInt(1)
	c2 := big.NewInt(1)
	for i, b := range s.ballots {
		c1.Mul(c1, b.C1).Mod(c1, m)
		c2.Mul(c2, b.C2).Mod(c2, m)
		s.logger.Debugw("Combined ballot",
			"position", i+1,
			"c1", c1.String(),
			"c2", c2.String())
	}

	return AggregateBallot{C1: c1, C2: c2, Count: len(s.ballots)}, nil
}

// Len reports how many ballots are stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ballots)
}

// Scheme returns a copy of the public parameters.
func (s *Store) Scheme() Scheme {
	return Scheme{
		Modulus:   new(big.Int).Set(s.scheme.Modulus),
		Generator: new(big.Int).Set(s.scheme.Generator),
	}
}
