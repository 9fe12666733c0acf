// Package ballot stores encrypted ballots and combines them homomorphically:
// the aggregate of a set of (c1, c2) ciphertexts is the pointwise product of
// their components modulo the scheme modulus.
package ballot

import (
	"fmt"
	"math/big"

	"github.com/margo/trusted-tally/poc/types"
)

// Ballot is one voter's encrypted choice. Components are non-negative and
// never mutated after parsing.
type Ballot struct {
	C1 *big.Int
	C2 *big.Int
}

// AggregateBallot is the combination of Count ballots.
type AggregateBallot struct {
	C1    *big.Int
	C2    *big.Int
	Count int
}

// Scheme holds the public parameters shared with every ballot producer.
type Scheme struct {
	Modulus   *big.Int
	Generator *big.Int
}

// ParseScheme parses decimal scheme parameters. The modulus must exceed 1.
func ParseScheme(modulus, generator string) (Scheme, error) {
	m, err := parseComponent(modulus)
	if err != nil {
		return Scheme{}, fmt.Errorf("modulus: %w", err)
	}
	if m.Cmp(big.NewInt(1)) <= 0 {
		return Scheme{}, fmt.Errorf("modulus must be greater than 1, got %s", m)
	}
	g, err := parseComponent(generator)
	if err != nil {
		return Scheme{}, fmt.Errorf("generator: %w", err)
	}
	return Scheme{Modulus: m, Generator: g}, nil
}

// ParseBallot validates both components as decimal non-negative integers.
func ParseBallot(c1, c2 string) (Ballot, error) {
	if c1 == "" || c2 == "" {
		return Ballot{}, invalidBallot(fmt.Errorf("both c1 and c2 are required"))
	}
	x, err := parseComponent(c1)
	if err != nil {
		return Ballot{}, invalidBallot(fmt.Errorf("c1: %w", err))
	}
	y, err := parseComponent(c2)
	if err != nil {
		return Ballot{}, invalidBallot(fmt.Errorf("c2: %w", err))
	}
	return Ballot{C1: x, C2: y}, nil
}

func parseComponent(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("empty value")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return nil, fmt.Errorf("%q is not a non-negative decimal integer", s)
		}
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%q is not a non-negative decimal integer", s)
	}
	return n, nil
}

func invalidBallot(err error) error {
	return types.NewTallyError(types.ComponentBallotStore, types.OperationSubmitBallot, types.ErrInvalidBallotFormat, err, false)
}
