package certificates

import (
	"context"
	"fmt"

	"github.com/dhyanmanav/GAT-CMS-2/internal/kv"
)

const (
	CounterKey    = "cert_counter"
	DefaultPrefix = "GAT/GEN/BC"
)

// Sequence hands out certificate numbers from the store's atomic counter.
// The first number is 1 and no value is ever handed out twice.
type Sequence struct {
	store  kv.Store
	prefix string
}

func NewSequence(store kv.Store, prefix string) *Sequence {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Sequence{store: store, prefix: prefix}
}

func (s *Sequence) Next(ctx context.Context) (int64, error) {
	n, err := s.store.Incr(ctx, CounterKey)
	if err != nil {
		return 0, fmt.Errorf("next certificate number: %w", err)
	}
	return n, nil
}

func (s *Sequence) Format(n int64, year int) string {
	return FormatNumber(s.prefix, n, year)
}

// FormatNumber renders n for the academic year starting in year, e.g.
// GAT/GEN/BC/2025-2026/001. Numbers above 999 keep all their digits.
func FormatNumber(prefix string, n int64, year int) string {
	return fmt.Sprintf("%s/%d-%d/%03d", prefix, year, year+1, n)
}
