// Package workqueue is a durable FIFO queue of lead IDs with priority
// classes high/normal, backed by Redis lists. A reliable-queue RPOPLPUSH
// pattern moves a popped job into a processing list so a crashed worker's
// job isn't silently lost, matching the at-least-once delivery contract
// the auction engine's claim step is built to tolerate.
package workqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/leadworks/auction-broker/internal/metrics"
)

// Priority is the queue's priority class.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
)

const (
	keyHigh       = "lab:queue:high"
	keyNormal     = "lab:queue:normal"
	keyProcessing = "lab:queue:processing"
	keyFailed     = "leads:failed"
)

// MaxAttempts is the number of processing attempts before a job moves to the
// dead-letter list.
const MaxAttempts = 3

var retryBackoff = []time.Duration{time.Second, 5 * time.Second, 30 * time.Second}

// Job is one unit of work: a lead awaiting an auction run.
type Job struct {
	LeadID     uuid.UUID `json:"leadId"`
	Priority   Priority  `json:"priority"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// FailedJob is a job that exhausted its retry budget, retained on the
// dead-letter list for operator inspection.
type FailedJob struct {
	Job
	FailedAt time.Time `json:"failedAt"`
	Reason   string    `json:"reason"`
}

// Handle wraps a dequeued Job together with its serialized form, needed to
// remove the exact entry from the processing list on Ack or Retry.
type Handle struct {
	Job Job
	raw string
}

// Queue is the Work Queue, backed by a Redis client.
type Queue struct {
	client  *redis.Client
	logger  *zap.Logger
	metrics *metrics.Registry
}

// New constructs a Queue bound to an existing Redis client. reg may be nil,
// in which case dead-letter and depth instrumentation is skipped.
func New(client *redis.Client, logger *zap.Logger, reg *metrics.Registry) *Queue {
	return &Queue{client: client, logger: logger, metrics: reg}
}

// Enqueue appends a job to the priority class's list.
func (q *Queue) Enqueue(ctx context.Context, leadID uuid.UUID, priority Priority) error {
	job := Job{LeadID: leadID, Priority: priority, EnqueuedAt: time.Now().UTC()}
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return q.client.LPush(ctx, queueKeyFor(priority), body).Err()
}

// pollInterval is the gap between priority sweeps while Dequeue waits for a
// job to appear; Redis has no single blocking primitive that pops from two
// lists in priority order, so Dequeue polls each list in turn instead.
const pollInterval = 250 * time.Millisecond

// Dequeue waits up to blockFor for a job, preferring high priority over
// normal. Returns a nil Handle (no error) when blockFor elapses with nothing
// to process.
func (q *Queue) Dequeue(ctx context.Context, blockFor time.Duration) (*Handle, error) {
	deadline := time.Now().Add(blockFor)
	for {
		if h, err := q.tryPop(ctx, keyHigh); h != nil || err != nil {
			return h, err
		}
		if h, err := q.tryPop(ctx, keyNormal); h != nil || err != nil {
			return h, err
		}

		if blockFor <= 0 || !time.Now().Before(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (q *Queue) tryPop(ctx context.Context, listKey string) (*Handle, error) {
	body, err := q.client.RPopLPush(ctx, listKey, keyProcessing).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue from %s: %w", listKey, err)
	}

	var job Job
	if unmarshalErr := json.Unmarshal([]byte(body), &job); unmarshalErr != nil {
		q.client.LRem(ctx, keyProcessing, 1, body)
		return nil, fmt.Errorf("unmarshal job: %w", unmarshalErr)
	}
	return &Handle{Job: job, raw: body}, nil
}

// Ack removes a successfully processed job from the processing list.
func (q *Queue) Ack(ctx context.Context, h *Handle) error {
	return q.client.LRem(ctx, keyProcessing, 1, h.raw).Err()
}

// Retry removes the job from the processing list and either re-enqueues it
// with an incremented attempt count, or -- once MaxAttempts is exhausted --
// moves it to the dead-letter list with the failure reason.
func (q *Queue) Retry(ctx context.Context, h *Handle, cause error) error {
	if err := q.client.LRem(ctx, keyProcessing, 1, h.raw).Err(); err != nil {
		return fmt.Errorf("remove from processing: %w", err)
	}

	h.Job.Attempt++
	if h.Job.Attempt >= MaxAttempts {
		return q.deadLetter(ctx, h.Job, cause)
	}

	body, err := json.Marshal(h.Job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return q.client.LPush(ctx, queueKeyFor(h.Job.Priority), body).Err()
}

// BackoffFor returns the delay a worker should wait before the Nth retry
// (1-indexed) of a job.
func BackoffFor(attempt int) time.Duration {
	idx := attempt - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(retryBackoff) {
		idx = len(retryBackoff) - 1
	}
	return retryBackoff[idx]
}

func (q *Queue) deadLetter(ctx context.Context, job Job, cause error) error {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	fj := FailedJob{Job: job, FailedAt: time.Now().UTC(), Reason: reason}
	body, err := json.Marshal(fj)
	if err != nil {
		return fmt.Errorf("marshal dead-letter job: %w", err)
	}
	if err := q.client.LPush(ctx, keyFailed, body).Err(); err != nil {
		return err
	}
	q.logger.Warn("job moved to dead-letter queue",
		zap.String("lead_id", job.LeadID.String()), zap.String("reason", reason))
	if q.metrics != nil {
		q.metrics.RecordQueueDeadLetter()
	}
	return nil
}

// Depth returns the combined length of the high and normal queues, used by
// the submission path's backpressure decision.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	high, normal, err := q.DepthByPriority(ctx)
	if err != nil {
		return 0, err
	}
	return high + normal, nil
}

// DepthByPriority returns the high and normal queue lengths separately, used
// to report per-priority depth gauges.
func (q *Queue) DepthByPriority(ctx context.Context) (high, normal int64, err error) {
	high, err = q.client.LLen(ctx, keyHigh).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("llen high: %w", err)
	}
	normal, err = q.client.LLen(ctx, keyNormal).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("llen normal: %w", err)
	}
	return high, normal, nil
}

func queueKeyFor(p Priority) string {
	if p == PriorityHigh {
		return keyHigh
	}
	return keyNormal
}
