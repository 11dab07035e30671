package session

import (
	"context"
	"time"

	"github.com/iliyamo/reservation-admin/internal/logging"
)

// sagaStep is one forward action with an optional compensation.
type sagaStep struct {
	name string
	do   func(ctx context.Context) error
	undo func(ctx context.Context) error
}

// saga runs steps in order.  When a step fails, the compensations of the
// steps that already succeeded run in reverse order on a context detached
// from the caller's cancellation.  A failed compensation is logged as a
// DataIntegrityWarning and does not replace the original error.
type saga struct {
	log     logging.Logger
	timeout time.Duration
	steps   []sagaStep
}

func newSaga(log logging.Logger, timeout time.Duration) *saga {
	return &saga{log: log, timeout: timeout}
}

func (s *saga) step(name string, do, undo func(ctx context.Context) error) {
	s.steps = append(s.steps, sagaStep{name: name, do: do, undo: undo})
}

func (s *saga) run(ctx context.Context, fields logging.Fields) error {
	done := make([]sagaStep, 0, len(s.steps))
	for _, st := range s.steps {
		if err := st.do(ctx); err != nil {
			s.compensate(ctx, done, st.name, fields)
			return err
		}
		done = append(done, st)
	}
	return nil
}

func (s *saga) compensate(ctx context.Context, done []sagaStep, failed string, fields logging.Fields) {
	base := context.WithoutCancel(ctx)
	for i := len(done) - 1; i >= 0; i-- {
		st := done[i]
		if st.undo == nil {
			continue
		}
		f := logging.Fields{"step": st.name, "failed_step": failed}
		for k, v := range fields {
			f[k] = v
		}
		cctx, cancel := context.WithTimeout(base, s.timeout)
		err := st.undo(cctx)
		cancel()
		if err != nil {
			s.log.Warn(logging.DataIntegrityWarning, err, f)
			continue
		}
		s.log.Info(logging.CompensationRan, f)
	}
}
