// model/sync_operation.go
package model

import (
	"encoding/json"
	"time"
)

type OperationType string

const (
	OperationCreate OperationType = "CREATE"
	OperationUpdate OperationType = "UPDATE"
	OperationDelete OperationType = "DELETE"
)

type OperationStatus string

const (
	StatusPending    OperationStatus = "pending"
	StatusProcessing OperationStatus = "processing"
	StatusCompleted  OperationStatus = "completed"
	StatusFailed     OperationStatus = "failed"
)

type OperationPriority string

const (
	PriorityHigh   OperationPriority = "high"
	PriorityMedium OperationPriority = "medium"
	PriorityLow    OperationPriority = "low"
)

// Rank orders priorities for drain scheduling; lower sorts first.
func (p OperationPriority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

// SyncOperation is a pending mutation recorded while the remote is
// unreachable (or to decouple UI latency from the network). It is mirrored
// to the durable store on enqueue so a restart replays the still-pending set.
type SyncOperation struct {
	ID          string            `json:"id"`
	Type        OperationType     `json:"type"`
	Resource    string            `json:"resource"` // e.g. "vagas", "usuarios"
	Payload     json.RawMessage   `json:"payload"`
	OwnerID     string            `json:"owner_id"`
	Priority    OperationPriority `json:"priority"`
	Status      OperationStatus   `json:"status"`
	RetryCount  int               `json:"retry_count"`
	MaxRetries  int               `json:"max_retries"`
	CreatedAt   time.Time         `json:"created_at"`
	NextRetryAt time.Time         `json:"next_retry_at,omitempty"`
	LastError   string            `json:"last_error,omitempty"`
}
