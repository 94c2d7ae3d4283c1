package workqueue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/leadworks/auction-broker/internal/domain/errors"
	"github.com/leadworks/auction-broker/internal/service/auction"
)

type stubEngine struct {
	mu       sync.Mutex
	calls    int32
	outcomes map[uuid.UUID]error
}

func (s *stubEngine) RunAuction(ctx context.Context, leadID uuid.UUID) (*auction.Outcome, error) {
	atomic.AddInt32(&s.calls, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.outcomes[leadID]; ok && err != nil {
		return nil, err
	}
	return &auction.Outcome{LeadID: leadID, Status: auction.OutcomeSold}, nil
}

func TestPool_ProcessesEnqueuedJob(t *testing.T) {
	q, _ := setupTestQueue(t)
	leadID := uuid.New()
	require.NoError(t, q.Enqueue(context.Background(), leadID, PriorityNormal))

	engine := &stubEngine{outcomes: map[uuid.UUID]error{}}
	pool := NewPool(q, engine, zaptest.NewLogger(t), 2, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	pool.Run(ctx)

	assert.EqualValues(t, 1, atomic.LoadInt32(&engine.calls))
}

func TestPool_AlreadyProcessingAcksWithoutRetry(t *testing.T) {
	q, _ := setupTestQueue(t)
	leadID := uuid.New()
	require.NoError(t, q.Enqueue(context.Background(), leadID, PriorityNormal))

	engine := &stubEngine{outcomes: map[uuid.UUID]error{leadID: errors.ErrAlreadyProcessing}}
	pool := NewPool(q, engine, zaptest.NewLogger(t), 1, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	pool.Run(ctx)

	assert.EqualValues(t, 1, atomic.LoadInt32(&engine.calls))
	depth, err := q.Depth(context.Background())
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestPool_TransientFailureRetries(t *testing.T) {
	original := retryBackoff
	retryBackoff = []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond}
	defer func() { retryBackoff = original }()

	q, _ := setupTestQueue(t)
	leadID := uuid.New()
	require.NoError(t, q.Enqueue(context.Background(), leadID, PriorityNormal))

	engine := &stubEngine{outcomes: map[uuid.UUID]error{leadID: fmt.Errorf("buyer unreachable")}}
	pool := NewPool(q, engine, zaptest.NewLogger(t), 1, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	pool.Run(ctx)

	assert.GreaterOrEqual(t, atomic.LoadInt32(&engine.calls), int32(2))
}
