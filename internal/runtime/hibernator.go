package runtime

import (
	"context"
	"errors"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/drblury/bulkbus/internal/runtime/config"
	errspkg "github.com/drblury/bulkbus/internal/runtime/errors"
	"github.com/drblury/bulkbus/internal/runtime/logging"
	"github.com/drblury/bulkbus/internal/runtime/store"
)

// Hibernator spills queues nobody has read from for a while into temporary
// store files. Watched queues are forgotten when they finish.
type Hibernator struct {
	conf  config.Config
	codec store.Codec
	log   logging.ServiceLogger
	clock clock.Clock

	mu     sync.Mutex
	queues map[*Queue]struct{}
}

// NewHibernator creates a hibernator using conf's directory, codec, abandon
// threshold and sweep interval. A nil clk uses the wall clock.
func NewHibernator(conf *config.Config, log logging.ServiceLogger, clk clock.Clock) (*Hibernator, error) {
	cfg := conf.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	codec, err := store.CodecByName(cfg.StoreCodec)
	if err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Hibernator{
		conf:   cfg,
		codec:  codec,
		log:    logging.OrNop(log).With(logging.LogFields{"component": "hibernator"}),
		clock:  clk,
		queues: make(map[*Queue]struct{}),
	}, nil
}

// Watch adds q to the set of queues considered by Sweep.
func (h *Hibernator) Watch(q *Queue) error {
	if q == nil {
		return errspkg.ErrQueueRequired
	}
	h.mu.Lock()
	h.queues[q] = struct{}{}
	h.mu.Unlock()

	return q.OnFinish(func() error {
		h.Forget(q)
		return nil
	})
}

// Forget stops watching q.
func (h *Hibernator) Forget(q *Queue) {
	h.mu.Lock()
	delete(h.queues, q)
	h.mu.Unlock()
}

// Len returns the number of watched queues.
func (h *Hibernator) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.queues)
}

// Sweep hibernates every watched in-memory queue that has been abandoned for
// AbandonAfter. It returns how many queues were hibernated along with any
// store failures.
func (h *Hibernator) Sweep() (int, error) {
	h.mu.Lock()
	queues := make([]*Queue, 0, len(h.queues))
	for q := range h.queues {
		queues = append(queues, q)
	}
	h.mu.Unlock()

	var errs []error
	hibernated := 0
	for _, q := range queues {
		if q.IsFinished() || q.IsHibernating() || !q.Abandoned(h.conf.AbandonAfter) {
			continue
		}
		st, err := store.CreateTemp(h.conf.HibernateDir, h.codec)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := q.Hibernate(st); err != nil {
			_ = st.Close()
			if errors.Is(err, errspkg.ErrHibernating) || errors.Is(err, errspkg.ErrClosed) {
				continue
			}
			h.log.Error("Hibernating queue failed", err, logging.LogFields{"queue": q.Name()})
			errs = append(errs, err)
			continue
		}
		hibernated++
	}

	if hibernated > 0 {
		h.log.Debug("Sweep hibernated queues", logging.LogFields{"count": hibernated})
	}
	return hibernated, errors.Join(errs...)
}

// Run sweeps every SweepInterval until ctx is done.
func (h *Hibernator) Run(ctx context.Context) error {
	ticker := h.clock.Ticker(h.conf.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := h.Sweep(); err != nil {
				h.log.Error("Sweep failed", err, nil)
			}
		}
	}
}
