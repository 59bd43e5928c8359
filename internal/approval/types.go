package approval

import (
	"errors"
	"time"

	"github.com/prismlabs/prism/internal/diffapply"
)

// RequestStatus is the lifecycle state of an approval request. Lifecycle is
// strictly forward: pending -> approved -> applied, pending -> rejected, or
// approved -> failed when the apply step errors. Terminal states never
// transition again.
type RequestStatus string

const (
	StatusPending  RequestStatus = "pending"
	StatusApproved RequestStatus = "approved"
	StatusApplied  RequestStatus = "applied"
	StatusRejected RequestStatus = "rejected"
	StatusFailed   RequestStatus = "failed"
)

// Sentinel errors surfaced to the gateway boundary.
var (
	ErrForbidden  = errors.New("write capability is forbidden under current policy")
	ErrNotPending = errors.New("request is not pending")
	ErrNotFound   = errors.New("request not found")
)

// Request is a persisted approval request record. One request may group
// several file diffs; one approval covers the batch.
type Request struct {
	ID           string           `json:"id"`
	Status       RequestStatus    `json:"status"`
	Diffs        []diffapply.Diff `json:"diffs"`
	Message      string           `json:"message,omitempty"`
	DecisionNote string           `json:"decision_note,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	DecidedAt    *time.Time       `json:"decided_at,omitempty"`
	DecidedBy    string           `json:"decided_by,omitempty"`
}

// DecisionInput carries who decided and an optional note.
type DecisionInput struct {
	DecidedBy string
	Note      string
}
