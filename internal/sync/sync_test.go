package sync

import (
	"encoding/json"
	"testing"
	"time"

	"comanda/internal/database"
	"comanda/internal/models"

	"github.com/jinzhu/gorm"
	"github.com/stretchr/testify/require"
)

// newTestDB opens an in-memory sqlite database with the full schema.
// A single connection keeps :memory: stable across the pool.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.DB().SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { db.Close() })
	return db
}

func mustJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func op(t *testing.T, kind models.OperationKind, localID, dependsOn string, payload interface{}) models.Operation {
	t.Helper()
	return models.Operation{
		Kind:             kind,
		LocalID:          localID,
		DependsOnLocalID: dependsOn,
		Payload:          mustJSON(t, payload),
		ClientTimestamp:  time.Now(),
	}
}

// recordingNotifier captures status-change events for assertions.
type recordingNotifier struct {
	events []models.OrderStatus
	orders []uint
}

func (n *recordingNotifier) NotifyOrderStatusChanged(orderID uint, status models.OrderStatus) {
	n.orders = append(n.orders, orderID)
	n.events = append(n.events, status)
}

func newTestSynchronizer(db *gorm.DB, notifier Notifier) *Synchronizer {
	return NewSynchronizer(db, NewAuditLog(db), notifier, nil, DefaultConfig())
}

// lineState fetches the current consumption positions and extra counts
// of a line, in position order.
func lineState(t *testing.T, db *gorm.DB, lineID uint) (positions []int, extras []int) {
	t.Helper()
	var line models.OrderLine
	err := db.Preload("Consumptions", func(db *gorm.DB) *gorm.DB {
		return db.Order("position asc")
	}).Preload("Consumptions.Extras").First(&line, lineID).Error
	require.NoError(t, err)
	for _, c := range line.Consumptions {
		positions = append(positions, c.Position)
		extras = append(extras, len(c.Extras))
	}
	return positions, extras
}
