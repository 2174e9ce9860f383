package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/orders/internal/domain"
)

func enqueueN(t *testing.T, repo *OutboxRepository, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for range n {
		saved, err := repo.Enqueue(context.Background(), domain.OutboxMessage{
			AggregateType: domain.AggregateTypeOrder,
			AggregateID:   "1",
			EventType:     domain.EventTypeOrderStatusChanged,
			Payload:       []byte(`{"order_id":1}`),
		})
		require.NoError(t, err)
		require.NotEmpty(t, saved.ID)
		ids = append(ids, saved.ID)
	}
	return ids
}

func outboxIDs(msgs []domain.OutboxMessage) []string {
	ids := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		ids = append(ids, msg.ID)
	}
	return ids
}

func TestOutboxRepository_PullPendingKeepsEnqueueOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewOutboxRepository()
	ids := enqueueN(t, repo, 4)

	pending, err := repo.PullPending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, ids, outboxIDs(pending))

	limited, err := repo.PullPending(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, ids[:2], outboxIDs(limited))

	require.NoError(t, repo.MarkSent(ctx, ids[0]))
	require.NoError(t, repo.MarkFailed(ctx, ids[2]))
	assert.Equal(t, []string{ids[1], ids[3]}, outboxIDs(repo.AllPending()))
}

func TestOutboxRepository_EnqueueCopiesPayloadAndKeepsPosition(t *testing.T) {
	ctx := context.Background()
	repo := NewOutboxRepository()

	payload := []byte(`{"v":1}`)
	first, err := repo.Enqueue(ctx, domain.OutboxMessage{ID: "a", Payload: payload})
	require.NoError(t, err)
	_, err = repo.Enqueue(ctx, domain.OutboxMessage{ID: "b"})
	require.NoError(t, err)
	payload[0] = 'X'
	assert.JSONEq(t, `{"v":1}`, string(repo.AllPending()[0].Payload))

	require.NoError(t, repo.MarkSent(ctx, "a"))
	_, err = repo.Enqueue(ctx, domain.OutboxMessage{ID: "a", Payload: []byte(`{"v":2}`), CreatedAt: first.CreatedAt})
	require.NoError(t, err)

	pending := repo.AllPending()
	assert.Equal(t, []string{"a", "b"}, outboxIDs(pending), "re-enqueue keeps the original slot")
	assert.JSONEq(t, `{"v":2}`, string(pending[0].Payload))
}

func TestOutboxRepository_Settle(t *testing.T) {
	ctx := context.Background()
	repo := NewOutboxRepository()
	id := enqueueN(t, repo, 1)[0]

	require.NoError(t, repo.MarkSent(ctx, id))
	assert.Empty(t, repo.AllPending())
	assert.Equal(t, 1, repo.Attempts(id))
	assert.Zero(t, repo.Attempts("missing"))

	assert.ErrorIs(t, repo.MarkFailed(ctx, "missing"), domain.ErrOutboxMessageNotFound)
	assert.ErrorIs(t, repo.MarkSent(ctx, "missing"), domain.ErrOutboxMessageNotFound)
}

func TestOutboxRepository_Stats(t *testing.T) {
	ctx := context.Background()
	repo := NewOutboxRepository()

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.OutboxStats{}, stats)

	oldest := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err = repo.Enqueue(ctx, domain.OutboxMessage{CreatedAt: oldest.Add(time.Hour)})
	require.NoError(t, err)
	_, err = repo.Enqueue(ctx, domain.OutboxMessage{CreatedAt: oldest})
	require.NoError(t, err)

	stats, err = repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.PendingCount)
	assert.True(t, stats.OldestPendingAt.Equal(oldest))
}

func TestOutboxRepository_PurgeSent(t *testing.T) {
	ctx := context.Background()
	repo := NewOutboxRepository()
	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }

	ids := enqueueN(t, repo, 4)
	for _, id := range ids[:3] {
		require.NoError(t, repo.MarkSent(ctx, id))
	}

	removed, err := repo.PurgeSent(ctx, now, 10)
	require.NoError(t, err)
	assert.Zero(t, removed, "only messages settled strictly before the cutoff go")

	removed, err = repo.PurgeSent(ctx, now.Add(time.Minute), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, repo.Attempts(ids[2]), "third sent message is beyond the limit")
	assert.Zero(t, repo.Attempts(ids[0]))

	removed, err = repo.PurgeSent(ctx, now.Add(time.Minute), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, []string{ids[3]}, outboxIDs(repo.AllPending()))
}
