package sync

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	gosync "sync"
	"time"

	"comanda/internal/models"

	"github.com/jinzhu/gorm"
)

// Notifier is the sink informed of committed order status changes.
// Delivery guarantees belong to the sink; the synchronizer fires and
// forgets after the change is durable.
type Notifier interface {
	NotifyOrderStatusChanged(orderID uint, status models.OrderStatus)
}

// Observer receives pipeline measurements. Satisfied by
// monitoring.Metrics; nil-safe throughout.
type Observer interface {
	ObserveBatch(outcome string, d time.Duration)
	ObserveOperation(kind, status string)
}

// Config bounds the synchronizer's resource usage.
type Config struct {
	MaxBatchSize  int           // operations per flush; 0 means unbounded
	MaxRetries    int           // extra attempts after a transient store error
	RetryBackoff  time.Duration // pause between attempts
	BatchDeadline time.Duration // overall budget per batch; 0 means none
}

// DefaultConfig returns the bounds used when none are configured.
func DefaultConfig() Config {
	return Config{
		MaxBatchSize:  500,
		MaxRetries:    3,
		RetryBackoff:  50 * time.Millisecond,
		BatchDeadline: 30 * time.Second,
	}
}

// Synchronizer applies batches of client operations against the store
// with dependency resolution and partial-failure isolation. Batches from
// different clients may run concurrently; writes to the same order are
// serialized through per-order locks.
type Synchronizer struct {
	db         *gorm.DB
	audit      *AuditLog
	reconciler *Reconciler
	notifier   Notifier
	observer   Observer
	cfg        Config

	locks orderLocks
}

// orderLocks is the per-order lock table. Locks are never removed; the
// table grows with the set of orders touched since startup, which is
// bounded by one service day in practice.
type orderLocks struct {
	mu    gosync.Mutex
	locks map[uint]*gosync.Mutex
}

func (l *orderLocks) acquire(orderID uint) func() {
	if orderID == 0 {
		return func() {}
	}
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[uint]*gosync.Mutex)
	}
	m, ok := l.locks[orderID]
	if !ok {
		m = &gosync.Mutex{}
		l.locks[orderID] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// NewSynchronizer wires a synchronizer. notifier and observer may be nil.
func NewSynchronizer(db *gorm.DB, audit *AuditLog, notifier Notifier, observer Observer, cfg Config) *Synchronizer {
	return &Synchronizer{
		db:         db,
		audit:      audit,
		reconciler: NewReconciler(),
		notifier:   notifier,
		observer:   observer,
		cfg:        cfg,
	}
}

// Sync processes one flushed batch for a client. The returned response
// always reflects only durably recorded results. A non-nil error with a
// non-nil response marks a structural batch failure (nothing applied);
// a non-nil error alone marks an infrastructure failure.
func (s *Synchronizer) Sync(ctx context.Context, clientID string, ops []models.Operation) (*models.BatchResponse, error) {
	start := time.Now()
	batchID := newBatchID()

	if s.cfg.BatchDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.BatchDeadline)
		defer cancel()
	}

	if err := s.validateBatch(clientID, ops); err != nil {
		return s.failBatch(clientID, batchID, start, err)
	}

	// Step 1: dedupe against history. A replayed localId never re-applies;
	// it returns the recorded result. Retryable failures (timeout, store
	// outage) are not terminal and go through the pipeline again.
	replayed := make(map[int]*models.SyncRecord)
	pending := make([]models.Operation, 0, len(ops))
	pendingIdx := make([]int, 0, len(ops))
	for i, op := range ops {
		rec, err := s.audit.Lookup(clientID, op.LocalID)
		if err != nil {
			return nil, err
		}
		if rec != nil && (rec.Status == models.OpSucceeded || !rec.Reason.Retryable()) {
			replayed[i] = rec
			continue
		}
		pending = append(pending, op)
		pendingIdx = append(pendingIdx, i)
	}

	// Step 2: dependency order within the batch. A cycle fails the whole
	// batch before anything is applied.
	order, err := topoOrder(pending)
	if err != nil {
		return s.failBatch(clientID, batchID, start, err)
	}

	// Step 3-5: apply in dependency order, remapping ids as they appear.
	idmap := make(map[string]uint)
	statusByLocal := make(map[string]models.OpStatus, len(ops))
	reasonByLocal := make(map[string]models.Reason, len(ops))
	for i, rec := range replayed {
		statusByLocal[ops[i].LocalID] = rec.Status
		reasonByLocal[ops[i].LocalID] = rec.Reason
		if rec.ServerID != 0 {
			idmap[ops[i].LocalID] = rec.ServerID
		}
	}

	resolve := s.resolver(clientID, idmap)
	results := make([]models.OperationResult, len(ops))
	for i, rec := range replayed {
		results[i] = rec.Result()
	}

	var changes []ApplyResult
	for _, pi := range order {
		op := pending[pi]
		reqIdx := pendingIdx[pi]

		result := s.applyOne(ctx, clientID, batchID, op, resolve, statusByLocal, reasonByLocal, &changes)
		statusByLocal[op.LocalID] = result.Status
		reasonByLocal[op.LocalID] = result.Reason
		if result.Status == models.OpSucceeded && result.ServerID != 0 {
			idmap[op.LocalID] = result.ServerID
		}

		// Write-then-acknowledge: the result is durable before it can
		// ever reach the response. Successful operations were recorded
		// inside their own apply transaction; failures are recorded here.
		if result.Status != models.OpSucceeded {
			rec := &models.SyncRecord{
				ClientID: clientID,
				LocalID:  op.LocalID,
				BatchID:  batchID,
				Kind:     string(op.Kind),
				Status:   result.Status,
				Reason:   result.Reason,
			}
			if err := s.upsertRecord(s.db, rec); err != nil {
				return nil, err
			}
		}
		results[reqIdx] = result
	}

	// Step 6: batch outcome and summary.
	succeeded, failed := 0, 0
	for _, res := range results {
		if res.Status == models.OpSucceeded {
			succeeded++
		} else {
			failed++
		}
	}
	outcome := models.BatchCompleted
	switch {
	case failed > 0 && succeeded == 0 && len(results) > 0:
		outcome = models.BatchFailed
	case failed > 0:
		outcome = models.BatchCompletedWithErrors
	}

	summary := &models.SyncBatch{
		BatchID:    batchID,
		ClientID:   clientID,
		Outcome:    outcome,
		Succeeded:  succeeded,
		Failed:     failed,
		DurationMS: time.Since(start).Milliseconds(),
	}
	if err := s.audit.RecordBatch(summary); err != nil {
		return nil, err
	}

	// Committed and recorded; now tell the dining room.
	if s.notifier != nil {
		for _, ch := range changes {
			if ch.NewStatus != nil {
				s.notifier.NotifyOrderStatusChanged(ch.OrderID, *ch.NewStatus)
			}
		}
	}
	if s.observer != nil {
		s.observer.ObserveBatch(string(outcome), time.Since(start))
		for i, res := range results {
			s.observer.ObserveOperation(string(ops[i].Kind), string(res.Status))
		}
	}

	mapping := make(map[string]uint)
	for _, res := range results {
		if res.Status == models.OpSucceeded && res.ServerID != 0 {
			mapping[res.LocalID] = res.ServerID
		}
	}

	return &models.BatchResponse{
		BatchID:   batchID,
		Outcome:   outcome,
		Results:   results,
		IDMapping: mapping,
	}, nil
}

// applyOne takes a single operation through dependency checks, payload
// reference rewriting, per-order locking and the bounded-retry apply.
func (s *Synchronizer) applyOne(
	ctx context.Context,
	clientID, batchID string,
	op models.Operation,
	resolve resolveFunc,
	statusByLocal map[string]models.OpStatus,
	reasonByLocal map[string]models.Reason,
	changes *[]ApplyResult,
) models.OperationResult {
	failed := func(reason models.Reason) models.OperationResult {
		return models.OperationResult{LocalID: op.LocalID, Status: models.OpFailed, Reason: reason}
	}

	if ctx.Err() != nil {
		// Deadline exhausted before this operation started. Reported, not
		// applied; safe to retransmit.
		return failed(models.ReasonTimeout)
	}
	if !op.Kind.Known() {
		return failed(models.ReasonValidationFailed)
	}

	if dep := op.DependsOnLocalID; dep != "" {
		st, known := statusByLocal[dep]
		if !known {
			rec, err := s.audit.Lookup(clientID, dep)
			if err != nil {
				return failed(models.ReasonStoreUnavailable)
			}
			if rec == nil {
				return failed(models.ReasonDependencyFailed)
			}
			st = rec.Status
			reasonByLocal[dep] = rec.Reason
		}
		if st == models.OpFailed {
			// A dependent of a transiently failed operation is itself only
			// transiently failed: both come back in the next flush.
			if r := reasonByLocal[dep]; r.Retryable() {
				return failed(r)
			}
			return failed(models.ReasonDependencyFailed)
		}
	}

	// Serialize against other batches touching the same order.
	orderID, err := s.reconciler.TargetOrderID(s.db, op, resolve)
	if err != nil {
		return failed(reasonFor(err))
	}
	unlock := s.locks.acquire(orderID)
	defer unlock()

	attempts := s.cfg.MaxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		res, err := s.applyTx(clientID, batchID, op, resolve)
		if err == nil {
			if res.NewStatus != nil {
				*changes = append(*changes, *res)
			}
			return models.OperationResult{
				LocalID:  op.LocalID,
				ServerID: res.ServerID,
				Status:   models.OpSucceeded,
			}
		}
		if de, ok := AsDomainError(err); ok {
			return failed(de.Reason)
		}
		// Transient store error; back off and try again within budget.
		log.Printf("sync: op %s attempt %d/%d: %v", op.LocalID, attempt, attempts, err)
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return failed(models.ReasonTimeout)
		case <-time.After(s.cfg.RetryBackoff):
		}
	}
	return failed(models.ReasonStoreUnavailable)
}

// applyTx runs one attempt inside its own transaction. The audit record
// commits together with the mutation, so a crash can never leave an
// applied operation unrecorded (which a later retransmission would then
// apply twice).
func (s *Synchronizer) applyTx(clientID, batchID string, op models.Operation, resolve resolveFunc) (*ApplyResult, error) {
	tx := s.db.Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("begin tx: %w", tx.Error)
	}
	res, err := s.reconciler.Apply(tx, op, resolve)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	rec := &models.SyncRecord{
		ClientID: clientID,
		LocalID:  op.LocalID,
		BatchID:  batchID,
		Kind:     string(op.Kind),
		ServerID: res.ServerID,
		Status:   models.OpSucceeded,
	}
	if err := s.upsertRecord(tx, rec); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return res, nil
}

// resolver builds the localId -> serverId resolution for one batch,
// seeded from this batch's results and falling back to the audit log for
// entities created in earlier sessions.
func (s *Synchronizer) resolver(clientID string, idmap map[string]uint) resolveFunc {
	return func(ref models.EntityRef) (uint, error) {
		if ref.ID != 0 {
			return ref.ID, nil
		}
		if ref.LocalID == "" {
			return 0, domainErrf(models.ReasonValidationFailed, "empty entity reference")
		}
		if id, ok := idmap[ref.LocalID]; ok {
			return id, nil
		}
		rec, err := s.audit.Lookup(clientID, ref.LocalID)
		if err != nil {
			return 0, err
		}
		if rec != nil && rec.Status == models.OpSucceeded && rec.ServerID != 0 {
			idmap[ref.LocalID] = rec.ServerID
			return rec.ServerID, nil
		}
		return 0, domainErrf(models.ReasonDependencyFailed,
			"reference %q has no server id", ref.LocalID)
	}
}

// validateBatch rejects structurally malformed batches before anything
// is applied.
func (s *Synchronizer) validateBatch(clientID string, ops []models.Operation) error {
	if clientID == "" {
		return fmt.Errorf("missing client identity")
	}
	if s.cfg.MaxBatchSize > 0 && len(ops) > s.cfg.MaxBatchSize {
		return ErrBatchTooLarge
	}
	seen := make(map[string]bool, len(ops))
	for _, op := range ops {
		if op.LocalID == "" {
			return fmt.Errorf("operation without localId")
		}
		if seen[op.LocalID] {
			return fmt.Errorf("duplicate localId %q in batch", op.LocalID)
		}
		seen[op.LocalID] = true
	}
	return nil
}

// failBatch records and returns a structural batch failure. No operation
// was applied; the client's queue keeps everything for the next flush.
func (s *Synchronizer) failBatch(clientID, batchID string, start time.Time, cause error) (*models.BatchResponse, error) {
	summary := &models.SyncBatch{
		BatchID:    batchID,
		ClientID:   clientID,
		Outcome:    models.BatchFailed,
		DurationMS: time.Since(start).Milliseconds(),
	}
	if err := s.audit.RecordBatch(summary); err != nil {
		return nil, err
	}
	if s.observer != nil {
		s.observer.ObserveBatch(string(models.BatchFailed), time.Since(start))
	}
	return &models.BatchResponse{
		BatchID: batchID,
		Outcome: models.BatchFailed,
		Error:   cause.Error(),
	}, cause
}

// upsertRecord writes a terminal result, replacing a prior retryable one
// for the same (client, localId) if the operation came back around.
func (s *Synchronizer) upsertRecord(db *gorm.DB, rec *models.SyncRecord) error {
	var existing models.SyncRecord
	err := db.Where("client_id = ? AND local_id = ?", rec.ClientID, rec.LocalID).
		First(&existing).Error
	if gorm.IsRecordNotFoundError(err) {
		if err := db.Create(rec).Error; err != nil {
			return fmt.Errorf("record sync result: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup sync record: %w", err)
	}
	existing.BatchID = rec.BatchID
	existing.ServerID = rec.ServerID
	existing.Status = rec.Status
	existing.Reason = rec.Reason
	if err := db.Save(&existing).Error; err != nil {
		return fmt.Errorf("update sync record: %w", err)
	}
	return nil
}

// reasonFor maps an arbitrary apply-path error onto a result reason.
func reasonFor(err error) models.Reason {
	if de, ok := AsDomainError(err); ok {
		return de.Reason
	}
	return models.ReasonStoreUnavailable
}

func newBatchID() string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("batch-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}
