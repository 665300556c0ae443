package sync

import (
	"testing"

	"comanda/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFlushKeepsUnacknowledgedOps(t *testing.T) {
	db := newTestDB(t)
	q := NewQueue(db, "terminal-1")

	require.NoError(t, q.Enqueue(op(t, models.OpCreateOrder, "L1", "", models.CreateOrderPayload{TableNumber: 2, Waiter: "ana"})))
	require.NoError(t, q.Enqueue(op(t, models.OpCreateOrderLine, "L2", "L1", models.CreateOrderLinePayload{
		OrderID: models.EntityRef{LocalID: "L1"}, ProductName: "taco", Quantity: 3,
	})))

	// Flush does not drain; a lost response must leave everything queued.
	ops, err := q.Flush()
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, "L1", ops[0].LocalID)
	assert.Equal(t, "L2", ops[1].LocalID)

	again, err := q.Flush()
	require.NoError(t, err)
	assert.Len(t, again, 2, "flush must be repeatable until acknowledged")
}

func TestQueueAckDropsTerminalResults(t *testing.T) {
	db := newTestDB(t)
	q := NewQueue(db, "terminal-1")

	require.NoError(t, q.Enqueue(op(t, models.OpCreateOrder, "L1", "", models.CreateOrderPayload{TableNumber: 2, Waiter: "ana"})))
	require.NoError(t, q.Enqueue(op(t, models.OpDeleteOrder, "L2", "", models.DeleteOrderPayload{OrderID: models.EntityRef{ID: 99}})))
	require.NoError(t, q.Enqueue(op(t, models.OpDeleteOrder, "L3", "", models.DeleteOrderPayload{OrderID: models.EntityRef{ID: 100}})))

	surfaced, err := q.Ack([]models.OperationResult{
		{LocalID: "L1", ServerID: 7, Status: models.OpSucceeded},
		{LocalID: "L2", Status: models.OpFailed, Reason: models.ReasonNotFound},
		{LocalID: "L3", Status: models.OpFailed, Reason: models.ReasonTimeout},
	})
	require.NoError(t, err)

	// Only the permanent failure is surfaced for manual resolution.
	assert.Equal(t, []string{"L2"}, surfaced)

	// The transient failure stays queued for the next flush.
	remaining, err := q.Flush()
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "L3", remaining[0].LocalID)

	n, err := q.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestQueueEnqueueRejectsMalformedOps(t *testing.T) {
	db := newTestDB(t)
	q := NewQueue(db, "terminal-1")

	err := q.Enqueue(models.Operation{Kind: models.OpCreateOrder})
	assert.Error(t, err, "missing localId")

	err = q.Enqueue(models.Operation{Kind: "Reticulate", LocalID: "L1"})
	assert.Error(t, err, "unknown kind")
}

func TestQueueIsPerClient(t *testing.T) {
	db := newTestDB(t)
	qa := NewQueue(db, "terminal-a")
	qb := NewQueue(db, "terminal-b")

	require.NoError(t, qa.Enqueue(op(t, models.OpCreateOrder, "L1", "", models.CreateOrderPayload{TableNumber: 1, Waiter: "ana"})))

	opsB, err := qb.Flush()
	require.NoError(t, err)
	assert.Empty(t, opsB)
}
