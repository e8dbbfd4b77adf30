// Package pricer fetches live USD prices and 24h changes for supported coins.
package pricer

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/vadiminshakov/walletsync/internal/domain"
)

// DefaultBudget is the hard limit for one price request.
const DefaultBudget = time.Second

// ErrTimeout is returned when the oracle did not answer within its budget.
var ErrTimeout = errors.New("price oracle timed out")

// Oracle returns quotes keyed by oracle id. Ids the oracle knows nothing about
// are absent from the result.
type Oracle interface {
	FetchPrices(ctx context.Context, ids []string) (map[string]domain.Quote, error)
}

// Budgeted enforces a hard time budget on an Oracle. It returns within the
// budget even when the wrapped oracle ignores its context. It never retries.
type Budgeted struct {
	next   Oracle
	budget time.Duration
}

// NewBudgeted wraps next with budget. A non-positive budget means DefaultBudget.
func NewBudgeted(next Oracle, budget time.Duration) *Budgeted {
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &Budgeted{next: next, budget: budget}
}

// Budget returns the configured limit.
func (b *Budgeted) Budget() time.Duration {
	return b.budget
}

// FetchPrices implements Oracle.
func (b *Budgeted) FetchPrices(ctx context.Context, ids []string) (map[string]domain.Quote, error) {
	if len(ids) == 0 {
		return map[string]domain.Quote{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, b.budget)
	defer cancel()

	type result struct {
		quotes map[string]domain.Quote
		err    error
	}
	done := make(chan result, 1)
	go func() {
		quotes, err := b.next.FetchPrices(ctx, ids)
		done <- result{quotes: quotes, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if errors.Is(r.err, context.DeadlineExceeded) {
				return nil, ErrTimeout
			}
			return nil, r.err
		}
		return filterQuotes(r.quotes, ids), nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}

func filterQuotes(quotes map[string]domain.Quote, ids []string) map[string]domain.Quote {
	out := make(map[string]domain.Quote, len(ids))
	for _, id := range ids {
		if q, ok := quotes[id]; ok && !q.Price.IsNegative() {
			out[id] = q
		}
	}
	return out
}
