package models

import (
	"github.com/jinzhu/gorm"
)

// SyncRecord is the durable terminal result of one operation, keyed by
// (client, localId). It is what makes replays of the same correlation id
// no-ops: the synchronizer returns the recorded result instead of
// re-applying the operation.
type SyncRecord struct {
	gorm.Model
	ClientID string `gorm:"unique_index:idx_sync_client_local"`
	LocalID  string `gorm:"unique_index:idx_sync_client_local"`
	BatchID  string `gorm:"index"`
	Kind     string
	ServerID uint
	Status   OpStatus
	Reason   Reason
}

// Result converts the record back into the wire shape returned to clients.
func (r *SyncRecord) Result() OperationResult {
	return OperationResult{
		LocalID:  r.LocalID,
		ServerID: r.ServerID,
		Status:   r.Status,
		Reason:   r.Reason,
	}
}

// SyncBatch is the per-batch summary kept for operator visibility.
type SyncBatch struct {
	gorm.Model
	BatchID    string `gorm:"unique_index"`
	ClientID   string `gorm:"index"`
	Outcome    BatchOutcome
	Succeeded  int
	Failed     int
	DurationMS int64
}

// QueuedOperation is the client-resident persisted form of a pending
// operation. Rows survive process restarts and leave the table only once
// the server acknowledges a terminal outcome for their localId.
type QueuedOperation struct {
	gorm.Model
	ClientID         string `gorm:"index"`
	Kind             string
	LocalID          string `gorm:"index"`
	DependsOnLocalID string
	Payload          string `gorm:"type:text"`
	ClientTimestamp  int64
}
