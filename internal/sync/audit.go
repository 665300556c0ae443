package sync

import (
	"fmt"

	"comanda/internal/models"

	"github.com/jinzhu/gorm"
)

// AuditLog is the durable record of every applied operation and batch.
// Terminal results are written before the client is answered, so a crash
// between apply and response can never cause a double application.
type AuditLog struct {
	db *gorm.DB
}

// NewAuditLog creates an audit log backed by the given database.
func NewAuditLog(db *gorm.DB) *AuditLog {
	return &AuditLog{db: db}
}

// Lookup returns the recorded terminal result for (clientID, localID),
// or nil if the operation has never reached a terminal state.
func (a *AuditLog) Lookup(clientID, localID string) (*models.SyncRecord, error) {
	var rec models.SyncRecord
	err := a.db.Where("client_id = ? AND local_id = ?", clientID, localID).First(&rec).Error
	if gorm.IsRecordNotFoundError(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup sync record: %w", err)
	}
	return &rec, nil
}

// Record durably stores the terminal result of one operation.
func (a *AuditLog) Record(rec *models.SyncRecord) error {
	if err := a.db.Create(rec).Error; err != nil {
		return fmt.Errorf("record sync result: %w", err)
	}
	return nil
}

// RecordBatch durably stores the summary of one processed batch.
func (a *AuditLog) RecordBatch(batch *models.SyncBatch) error {
	if err := a.db.Create(batch).Error; err != nil {
		return fmt.Errorf("record sync batch: %w", err)
	}
	return nil
}

// BatchHistory returns the most recent batch summaries for a client,
// newest first. Used by the operator surface, not by the sync path.
func (a *AuditLog) BatchHistory(clientID string, limit int) ([]models.SyncBatch, error) {
	var batches []models.SyncBatch
	q := a.db.Where("client_id = ?", clientID).Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&batches).Error; err != nil {
		return nil, fmt.Errorf("list sync batches: %w", err)
	}
	return batches, nil
}
