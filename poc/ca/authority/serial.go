package authority

import (
	"fmt"
	"math/big"
	"path/filepath"
	"strings"
	"sync"

	"github.com/margo/trusted-tally/shared-lib/store"
)

// SerialCounter hands out certificate serial numbers. The file holds the
// last serial issued as hex text, the same format as an OpenSSL .srl file,
// so restarts never reuse a serial. Counters for the same file share one
// lock within the process.
type SerialCounter struct {
	path string
	mu   *sync.Mutex
}

var (
	serialLocksMu sync.Mutex
	serialLocks   = map[string]*sync.Mutex{}
)

func serialLock(path string) *sync.Mutex {
	key := filepath.Clean(path)
	if abs, err := filepath.Abs(path); err == nil {
		key = abs
	}

	serialLocksMu.Lock()
	defer serialLocksMu.Unlock()
	mu, ok := serialLocks[key]
	if !ok {
		mu = &sync.Mutex{}
		serialLocks[key] = mu
	}
	return mu
}

func NewSerialCounter(path string) *SerialCounter {
	return &SerialCounter{path: path, mu: serialLock(path)}
}

// Next reads, increments and persists the counter as one step. The new
// value is only returned once it is on disk.
func (s *SerialCounter) Next() (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.read()
	if err != nil {
		return nil, err
	}
	next := new(big.Int).Add(current, big.NewInt(1))
	if err := store.WriteAtomic(s.path, []byte(formatSerial(next)+"\n"), store.ModePublic); err != nil {
		return nil, err
	}
	return next, nil
}

// Current returns the last serial issued, zero when none has been.
func (s *SerialCounter) Current() (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *SerialCounter) read() (*big.Int, error) {
	exists, err := store.Exists(s.path)
	if err != nil {
		return nil, err
	}
	if !exists {
		return big.NewInt(0), nil
	}
	data, err := store.Read(s.path)
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(string(data))
	value, ok := new(big.Int).SetString(text, 16)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("serial file %s is corrupt: %q", s.path, text)
	}
	return value, nil
}

func formatSerial(n *big.Int) string {
	text := strings.ToUpper(n.Text(16))
	if len(text)%2 == 1 {
		text = "0" + text
	}
	return text
}
