package models

import (
	"time"

	"github.com/google/uuid"
)

// Audit actions recorded by the strong-consistency cascade.
const (
	AuditActionInject = "inject"
	AuditActionReset  = "reset"
	AuditActionSeed   = "seed"
)

// AuditEntry records one cascade invocation: the action taken, the affected
// machine (nil for fleet-wide actions), and a human-readable detail string.
type AuditEntry struct {
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	MachineID *string   `json:"machine_id"`
	Details   string    `json:"details"`
}
