package sync

import (
	"encoding/json"
	"fmt"
	"time"

	"comanda/internal/models"

	"github.com/jinzhu/gorm"
)

// Queue is the client-resident operation queue. Every mutation captured
// while offline (or simply batched) is persisted here in recording order
// and stays until the server acknowledges a terminal outcome for it.
// Operations whose round-trip is lost keep their rows and are
// retransmitted verbatim, same localId, on the next flush; the
// synchronizer's idempotency check makes that safe.
type Queue struct {
	db       *gorm.DB
	clientID string
}

// NewQueue opens the persistent queue for one client identity.
func NewQueue(db *gorm.DB, clientID string) *Queue {
	return &Queue{db: db, clientID: clientID}
}

// Enqueue records one operation. It only fails on malformed input or a
// broken local store, never on business grounds.
func (q *Queue) Enqueue(op models.Operation) error {
	if op.LocalID == "" {
		return fmt.Errorf("enqueue: operation has no localId")
	}
	if !op.Kind.Known() {
		return fmt.Errorf("enqueue: unknown operation kind %q", op.Kind)
	}
	row := models.QueuedOperation{
		ClientID:         q.clientID,
		Kind:             string(op.Kind),
		LocalID:          op.LocalID,
		DependsOnLocalID: op.DependsOnLocalID,
		Payload:          string(op.Payload),
		ClientTimestamp:  op.ClientTimestamp.UnixNano(),
	}
	if err := q.db.Create(&row).Error; err != nil {
		return fmt.Errorf("enqueue %s: %w", op.LocalID, err)
	}
	return nil
}

// Flush returns all pending operations in the order they were recorded.
// It does not remove anything; rows leave the queue only through Ack.
func (q *Queue) Flush() ([]models.Operation, error) {
	var rows []models.QueuedOperation
	err := q.db.Where("client_id = ?", q.clientID).Order("id asc").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("flush queue: %w", err)
	}

	ops := make([]models.Operation, 0, len(rows))
	for _, row := range rows {
		ops = append(ops, models.Operation{
			Kind:             models.OperationKind(row.Kind),
			LocalID:          row.LocalID,
			DependsOnLocalID: row.DependsOnLocalID,
			Payload:          json.RawMessage(row.Payload),
			ClientTimestamp:  time.Unix(0, row.ClientTimestamp),
		})
	}
	return ops, nil
}

// Ack reconciles the queue against a batch response: operations with a
// terminal result are dropped, everything else stays for the next flush.
// Returns the localIds of operations that failed permanently so the
// caller can surface them for manual resolution.
func (q *Queue) Ack(results []models.OperationResult) ([]string, error) {
	var surfaced []string
	for _, res := range results {
		if res.Status == models.OpFailed && res.Reason.Retryable() {
			// Transient failure: keep the row, it is safe to resend.
			continue
		}
		if res.Status == models.OpFailed {
			surfaced = append(surfaced, res.LocalID)
		}
		err := q.db.Where("client_id = ? AND local_id = ?", q.clientID, res.LocalID).
			Delete(&models.QueuedOperation{}).Error
		if err != nil {
			return surfaced, fmt.Errorf("ack %s: %w", res.LocalID, err)
		}
	}
	return surfaced, nil
}

// Len reports how many operations are waiting for the next flush.
func (q *Queue) Len() (int, error) {
	var count int
	err := q.db.Model(&models.QueuedOperation{}).
		Where("client_id = ?", q.clientID).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count queue: %w", err)
	}
	return count, nil
}
