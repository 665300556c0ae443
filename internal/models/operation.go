package models

import (
	"encoding/json"
	"time"
)

// OperationKind identifies the mutation an operation carries. The set is
// closed; the synchronizer rejects anything else as a validation failure.
type OperationKind string

const (
	OpCreateOrder                OperationKind = "CreateOrder"
	OpUpdateOrder                OperationKind = "UpdateOrder"
	OpDeleteOrder                OperationKind = "DeleteOrder"
	OpUpdateOrderInstructions    OperationKind = "UpdateOrderInstructions"
	OpCreateOrderLine            OperationKind = "CreateOrderLine"
	OpUpdateOrderLine            OperationKind = "UpdateOrderLine"
	OpDeleteOrderLine            OperationKind = "DeleteOrderLine"
	OpUpdateOrderLineQuantity    OperationKind = "UpdateOrderLineQuantity"
	OpAddExtraToConsumptions     OperationKind = "AddExtraToConsumptions"
	OpRemoveExtraFromConsumption OperationKind = "RemoveExtraFromConsumption"
	OpDeleteConsumption          OperationKind = "DeleteConsumption"
)

// Known reports whether k is one of the defined operation kinds.
func (k OperationKind) Known() bool {
	switch k {
	case OpCreateOrder, OpUpdateOrder, OpDeleteOrder, OpUpdateOrderInstructions,
		OpCreateOrderLine, OpUpdateOrderLine, OpDeleteOrderLine,
		OpUpdateOrderLineQuantity, OpAddExtraToConsumptions,
		OpRemoveExtraFromConsumption, OpDeleteConsumption:
		return true
	}
	return false
}

// Operation represents one client-originated mutation intent. LocalID is a
// client-generated correlation id, unique per client session and never
// reused. DependsOnLocalID names the operation whose server-assigned id
// this operation's payload needs before it can be applied.
type Operation struct {
	Kind             OperationKind   `json:"kind"`
	LocalID          string          `json:"localId"`
	DependsOnLocalID string          `json:"dependsOnLocalId,omitempty"`
	Payload          json.RawMessage `json:"payload"`
	ClientTimestamp  time.Time       `json:"clientTimestamp"`
}

// EntityRef points at a persisted entity either by its server id or, for
// entities created earlier in the same offline session, by the local
// correlation id of the operation that created them. The synchronizer
// rewrites local references to server ids before an operation is applied.
type EntityRef struct {
	ID      uint   `json:"id,omitempty"`
	LocalID string `json:"localId,omitempty"`
}

// IsZero reports whether the reference names nothing at all.
func (r EntityRef) IsZero() bool {
	return r.ID == 0 && r.LocalID == ""
}

// Per-kind operation payloads. Fields that are pointers are patched only
// when present.

type CreateOrderPayload struct {
	TableNumber  int    `json:"tableNumber"`
	Waiter       string `json:"waiter"`
	Instructions string `json:"instructions,omitempty"`
	GroupID      string `json:"groupId,omitempty"`
}

type UpdateOrderPayload struct {
	OrderID     EntityRef    `json:"orderId"`
	Status      *OrderStatus `json:"status,omitempty"`
	TableNumber *int         `json:"tableNumber,omitempty"`
	Waiter      *string      `json:"waiter,omitempty"`
}

type DeleteOrderPayload struct {
	OrderID EntityRef `json:"orderId"`
}

type UpdateOrderInstructionsPayload struct {
	OrderID      EntityRef `json:"orderId"`
	Instructions string    `json:"instructions"`
}

type CreateOrderLinePayload struct {
	OrderID        EntityRef `json:"orderId"`
	ProductID      uint      `json:"productId"`
	ProductName    string    `json:"productName"`
	UnitRealCost   float64   `json:"unitRealCost"`
	UnitPublicCost float64   `json:"unitPublicCost"`
	Quantity       int       `json:"quantity"`
}

type UpdateOrderLinePayload struct {
	LineID         EntityRef `json:"lineId"`
	ProductName    *string   `json:"productName,omitempty"`
	UnitRealCost   *float64  `json:"unitRealCost,omitempty"`
	UnitPublicCost *float64  `json:"unitPublicCost,omitempty"`
}

type DeleteOrderLinePayload struct {
	LineID EntityRef `json:"lineId"`
}

type UpdateOrderLineQuantityPayload struct {
	LineID   EntityRef `json:"lineId"`
	Quantity int       `json:"quantity"`
	// Force acknowledges that consumptions removed by a decrease may hold
	// extras which will be discarded. Without it the decrease fails with
	// ConsumptionHasExtras.
	Force bool `json:"force,omitempty"`
}

type AddExtraToConsumptionsPayload struct {
	LineID     EntityRef `json:"lineId"`
	Name       string    `json:"name"`
	RealCost   float64   `json:"realCost"`
	PublicCost float64   `json:"publicCost"`
	Positions  []int     `json:"positions"`
}

type RemoveExtraFromConsumptionPayload struct {
	LineID   EntityRef `json:"lineId"`
	Position int       `json:"position"`
	// ExtraID targets the extra by server id when the client knows it;
	// otherwise the first extra matching Name on that consumption is removed.
	ExtraID uint   `json:"extraId,omitempty"`
	Name    string `json:"name,omitempty"`
}

type DeleteConsumptionPayload struct {
	LineID   EntityRef `json:"lineId"`
	Position int       `json:"position"`
}

// OpStatus is the terminal status of an applied operation.
type OpStatus string

const (
	OpSucceeded OpStatus = "succeeded"
	OpFailed    OpStatus = "failed"
)

// Reason classifies why an operation (or batch) failed.
type Reason string

const (
	ReasonDependencyFailed        Reason = "DependencyFailed"
	ReasonConsumptionHasExtras    Reason = "ConsumptionHasExtras"
	ReasonOrderClosed             Reason = "OrderClosed"
	ReasonNotFound                Reason = "NotFound"
	ReasonInvalidStatusTransition Reason = "InvalidStatusTransition"
	ReasonValidationFailed        Reason = "ValidationFailed"
	ReasonStoreUnavailable        Reason = "StoreUnavailable"
	ReasonTimeout                 Reason = "Timeout"
)

// Retryable reports whether a client may safely retransmit the operation
// on its next flush. Domain violations are permanent; only infrastructure
// failures are worth retrying.
func (r Reason) Retryable() bool {
	return r == ReasonStoreUnavailable || r == ReasonTimeout
}

// OperationResult is the per-operation outcome returned to the client and
// recorded in the audit log.
type OperationResult struct {
	LocalID  string   `json:"localId"`
	ServerID uint     `json:"serverId,omitempty"`
	Status   OpStatus `json:"status"`
	Reason   Reason   `json:"reason,omitempty"`
}

// BatchOutcome summarizes an entire flush.
type BatchOutcome string

const (
	BatchCompleted           BatchOutcome = "completed"
	BatchCompletedWithErrors BatchOutcome = "completed_with_errors"
	BatchFailed              BatchOutcome = "failed"
)

// BatchRequest is the wire shape of one client flush.
type BatchRequest struct {
	Operations []Operation `json:"operations"`
}

// BatchResponse is returned to the client so it can drop acknowledged
// operations and surface the genuinely failed ones. IDMapping translates
// every correlation id that produced a new entity into its server id.
type BatchResponse struct {
	BatchID   string            `json:"batchId"`
	Outcome   BatchOutcome      `json:"outcome"`
	Results   []OperationResult `json:"results"`
	IDMapping map[string]uint   `json:"idMapping"`
	Error     string            `json:"error,omitempty"`
}
