package workqueue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func setupTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return New(client, zaptest.NewLogger(t), nil), mr
}

func TestDequeue_PrefersHighPriority(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	normalLead := uuid.New()
	highLead := uuid.New()
	require.NoError(t, q.Enqueue(ctx, normalLead, PriorityNormal))
	require.NoError(t, q.Enqueue(ctx, highLead, PriorityHigh))

	h, err := q.Dequeue(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, highLead, h.Job.LeadID)
	assert.Equal(t, PriorityHigh, h.Job.Priority)
}

func TestDequeue_TimesOutWithNoJob(t *testing.T) {
	q, _ := setupTestQueue(t)
	h, err := q.Dequeue(context.Background(), 10*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, h)
}

func TestAck_RemovesFromProcessing(t *testing.T) {
	q, mr := setupTestQueue(t)
	ctx := context.Background()

	leadID := uuid.New()
	require.NoError(t, q.Enqueue(ctx, leadID, PriorityNormal))

	h, err := q.Dequeue(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, h)

	require.NoError(t, q.Ack(ctx, h))
	n, err := mr.Llen(keyProcessing)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRetry_ReenqueuesUntilMaxAttemptsThenDeadLetters(t *testing.T) {
	q, mr := setupTestQueue(t)
	ctx := context.Background()

	leadID := uuid.New()
	require.NoError(t, q.Enqueue(ctx, leadID, PriorityNormal))

	h, err := q.Dequeue(ctx, 0)
	require.NoError(t, err)
	require.NotNil(t, h)

	for i := 0; i < MaxAttempts-1; i++ {
		require.NoError(t, q.Retry(ctx, h, assertErr))
		h, err = q.Dequeue(ctx, 0)
		require.NoError(t, err)
		require.NotNil(t, h)
	}

	require.NoError(t, q.Retry(ctx, h, assertErr))

	failedLen, err := mr.Llen(keyFailed)
	require.NoError(t, err)
	assert.Equal(t, 1, failedLen)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestDepth_SumsBothPriorities(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, uuid.New(), PriorityHigh))
	require.NoError(t, q.Enqueue(ctx, uuid.New(), PriorityNormal))
	require.NoError(t, q.Enqueue(ctx, uuid.New(), PriorityNormal))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, depth)
}

var assertErr = &testError{"boom"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
