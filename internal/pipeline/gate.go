package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/joseph-ayodele/bookrenamer/internal/common"
	"github.com/joseph-ayodele/bookrenamer/internal/llm"
)

// Gate is the admission gate in front of the completion service. Every call, primary or
// fallback, from every job, holds one of its slots for exactly the duration of the call.
type Gate struct {
	next     llm.Completer
	sem      *semaphore.Weighted
	limiter  *rate.Limiter
	timeout  time.Duration
	logger   *slog.Logger
	inFlight atomic.Int64
	peak     atomic.Int64
}

var _ llm.Completer = (*Gate)(nil)

// NewGate allows at most n concurrent calls, each bounded by timeout. rps > 0 additionally
// paces call starts across the batch.
func NewGate(next llm.Completer, n int, timeout time.Duration, rps float64, logger *slog.Logger) *Gate {
	if n <= 0 {
		n = 1
	}
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gate{
		next:    next,
		sem:     semaphore.NewWeighted(int64(n)),
		timeout: timeout,
		logger:  logger,
	}
	if rps > 0 {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return g
}

func (g *Gate) Complete(ctx context.Context, req llm.CompletionRequest) (llm.Completion, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return llm.Completion{}, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	waitStart := time.Now()
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return llm.Completion{}, fmt.Errorf("admission gate: %w", err)
	}
	defer g.sem.Release(1)

	n := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}

	g.logger.Debug("pipeline.gate.acquired",
		"req_id", common.RequestIDFromContext(ctx),
		"model", req.Model,
		"in_flight", n,
		"wait_ms", time.Since(waitStart).Milliseconds(),
	)

	// the timeout starts once the slot is held so queueing never eats into it
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.next.Complete(callCtx, req)
}

// Peak is the highest number of simultaneous calls observed.
func (g *Gate) Peak() int {
	return int(g.peak.Load())
}
