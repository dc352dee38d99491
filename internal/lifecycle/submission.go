package lifecycle

import (
	"context"
	stderrors "errors"
	"sync"

	"github.com/pro-subscriber/internal/types"
)

// ErrAbandoned is returned by Wait after Abandon
var ErrAbandoned = stderrors.New("submission abandoned")

// Submission is the pending handle for a batch handed to the wallet
type Submission struct {
	Intent  *types.PurchaseIntent
	BatchID string

	machine *Machine
	cancel  context.CancelFunc
	settled bool // guarded by machine.mu

	once    sync.Once
	done    chan struct{}
	outcome *Outcome
	err     error
}

// Done is closed once the submission is settled or abandoned
func (s *Submission) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the outcome is known, the submission is abandoned, or ctx ends
func (s *Submission) Wait(ctx context.Context) (*Outcome, error) {
	select {
	case <-s.done:
		return s.outcome, s.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Abandon stops listening for the outcome. The batch itself is not cancelled on chain,
// no notification is sent and a new submit is allowed.
func (s *Submission) Abandon() {
	if !s.machine.abandon(s) {
		return
	}
	s.resolve(nil, ErrAbandoned)
}

func (s *Submission) resolve(outcome *Outcome, err error) {
	s.once.Do(func() {
		s.outcome = outcome
		s.err = err
		if s.cancel != nil {
			s.cancel()
		}
		close(s.done)
	})
}
