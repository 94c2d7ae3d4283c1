package workqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	domainerrors "github.com/leadworks/auction-broker/internal/domain/errors"
	"github.com/leadworks/auction-broker/internal/metrics"
	"github.com/leadworks/auction-broker/internal/service/auction"
)

// depthPollInterval is the gap between queue-depth gauge updates.
const depthPollInterval = 5 * time.Second

// PollInterval is the default Dequeue block duration each worker waits
// before re-checking the context for cancellation.
const PollInterval = 2 * time.Second

// EngineRunner is the narrow auction-running surface a worker calls per job,
// satisfied by *auction.Engine; narrowed so a pool can be exercised against a
// stub engine in tests, mirroring the Store/EligibilityResolver seams inside
// the engine itself.
type EngineRunner interface {
	RunAuction(ctx context.Context, leadID uuid.UUID) (*auction.Outcome, error)
}

// Pool is a fixed-size group of workers draining a Queue.
type Pool struct {
	queue   *Queue
	engine  EngineRunner
	logger  *zap.Logger
	workers int
	metrics *metrics.Registry
}

// NewPool constructs a worker pool of the given size (spec default 8). reg
// may be nil, in which case depth gauges are not reported.
func NewPool(queue *Queue, engine EngineRunner, logger *zap.Logger, workers int, reg *metrics.Registry) *Pool {
	if workers <= 0 {
		workers = 8
	}
	return &Pool{queue: queue, engine: engine, logger: logger, workers: workers, metrics: reg}
}

// Run starts the pool's workers and blocks until ctx is cancelled, then waits
// for in-flight jobs to finish.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.loop(ctx, id)
		}(i)
	}
	if p.metrics != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.reportDepth(ctx)
		}()
	}
	wg.Wait()
}

// reportDepth polls the queue's per-priority length into the depth gauge
// until ctx is cancelled.
func (p *Pool) reportDepth(ctx context.Context) {
	ticker := time.NewTicker(depthPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			high, normal, err := p.queue.DepthByPriority(ctx)
			if err != nil {
				p.logger.Warn("queue depth poll failed", zap.Error(err))
				continue
			}
			p.metrics.UpdateQueueDepth(string(PriorityHigh), float64(high))
			p.metrics.UpdateQueueDepth(string(PriorityNormal), float64(normal))
		}
	}
}

func (p *Pool) loop(ctx context.Context, workerID int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		h, err := p.queue.Dequeue(ctx, PollInterval)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("dequeue failed", zap.Int("worker", workerID), zap.Error(err))
			continue
		}
		if h == nil {
			continue // poll timeout, nothing queued
		}

		p.process(ctx, h)
	}
}

func (p *Pool) process(ctx context.Context, h *Handle) {
	_, err := p.engine.RunAuction(ctx, h.Job.LeadID)

	if err == nil || errors.Is(err, domainerrors.ErrAlreadyProcessing) {
		if ackErr := p.queue.Ack(ctx, h); ackErr != nil {
			p.logger.Error("ack failed", zap.String("lead_id", h.Job.LeadID.String()), zap.Error(ackErr))
		}
		return
	}

	p.logger.Warn("auction run failed, scheduling retry",
		zap.String("lead_id", h.Job.LeadID.String()), zap.Int("attempt", h.Job.Attempt+1), zap.Error(err))

	delay := BackoffFor(h.Job.Attempt + 1)
	select {
	case <-ctx.Done():
		return
	case <-time.After(delay):
	}

	if retryErr := p.queue.Retry(ctx, h, err); retryErr != nil {
		p.logger.Error("retry failed", zap.String("lead_id", h.Job.LeadID.String()), zap.Error(retryErr))
	}
}
