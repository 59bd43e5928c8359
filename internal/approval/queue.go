package approval

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prismlabs/prism/internal/audit"
	"github.com/prismlabs/prism/internal/bus"
	"github.com/prismlabs/prism/internal/diffapply"
	"github.com/prismlabs/prism/internal/policy"
)

// Applier applies an approved diff batch to the working tree.
type Applier interface {
	Apply(diffs []diffapply.Diff) error
}

// Queue gates diff submissions through the policy engine and holds the ones
// awaiting review. It owns every Request for the process lifetime.
type Queue struct {
	engine  *policy.Engine
	applier Applier
	store   *Store
	events  *bus.Bus
	auditor *audit.Writer
	now     func() time.Time
	mu      sync.Mutex
}

// NewQueue creates a queue backed by <workspace>/state/approvals.json.
// events and auditor may be nil.
func NewQueue(workspace string, engine *policy.Engine, applier Applier, events *bus.Bus, auditor *audit.Writer) *Queue {
	return &Queue{
		engine:  engine,
		applier: applier,
		store:   NewStore(workspace),
		events:  events,
		auditor: auditor,
		now:     time.Now,
	}
}

// Submit evaluates the write capability and either applies the batch
// immediately (auto), enqueues it for review (pending), or rejects it
// outright (ErrForbidden). The returned request's Status tells the caller
// which path was taken.
func (q *Queue) Submit(diffs []diffapply.Diff, message string) (Request, error) {
	if len(diffs) == 0 {
		return Request{}, fmt.Errorf("diffs are required")
	}

	decision := q.engine.Check(policy.CapabilityWrite)
	if decision == policy.DecisionForbid {
		return Request{}, ErrForbidden
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	data, err := q.store.Load()
	if err != nil {
		return Request{}, err
	}

	request := Request{
		ID:        strconv.FormatInt(data.NextID, 10),
		Status:    StatusPending,
		Diffs:     diffs,
		Message:   strings.TrimSpace(message),
		CreatedAt: q.now().UTC(),
	}

	if decision == policy.DecisionAuto {
		decidedAt := q.now().UTC()
		if applyErr := q.applier.Apply(diffs); applyErr != nil {
			request.Status = StatusFailed
			request.DecisionNote = applyErr.Error()
			request.DecidedAt = &decidedAt
			request.DecidedBy = "auto"
			if saveErr := q.appendRequestLocked(data, request); saveErr != nil {
				slog.Warn("approval store save failed after auto apply error", "id", request.ID, "error", saveErr)
			}
			q.notify(bus.EventApprovalFailed, request)
			return request, fmt.Errorf("auto apply: %w", applyErr)
		}
		request.Status = StatusApplied
		request.DecidedAt = &decidedAt
		request.DecidedBy = "auto"
		if err := q.appendRequestLocked(data, request); err != nil {
			return Request{}, err
		}
		q.notify(bus.EventApprovalApplied, request)
		return request, nil
	}

	if err := q.appendRequestLocked(data, request); err != nil {
		return Request{}, err
	}
	q.notify(bus.EventApprovalCreated, request)
	return request, nil
}

// List returns requests in creation order, optionally filtered by status.
func (q *Queue) List(status RequestStatus) ([]Request, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	data, err := q.store.Load()
	if err != nil {
		return nil, err
	}

	statusFilter := strings.TrimSpace(string(status))
	result := make([]Request, 0, len(data.Requests))
	for _, req := range data.Requests {
		if statusFilter != "" && string(req.Status) != statusFilter {
			continue
		}
		result = append(result, req)
	}
	return result, nil
}

// Get returns a single request by id.
func (q *Queue) Get(id string) (Request, error) {
	requests, err := q.List("")
	if err != nil {
		return Request{}, err
	}
	for _, req := range requests {
		if req.ID == strings.TrimSpace(id) {
			return req, nil
		}
	}
	return Request{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Approve transitions pending -> approved, applies the stored diffs, and
// finishes at applied. A failed apply lands in the terminal failed status
// with the error recorded; the caller must re-diff and resubmit. The status
// check and transition happen under one lock, so a second concurrent
// approve observes non-pending and is rejected.
func (q *Queue) Approve(id string, decision DecisionInput) (Request, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	data, err := q.store.Load()
	if err != nil {
		return Request{}, err
	}

	req, err := q.takePendingLocked(data, id, StatusApproved, decision)
	if err != nil {
		return Request{}, err
	}

	// Persist the approved state before applying so a crash mid-apply is
	// visible in the audit trail instead of silently reverting.
	if err := q.store.Save(data); err != nil {
		return Request{}, err
	}
	q.notify(bus.EventApprovalApproved, *req)

	if applyErr := q.applier.Apply(req.Diffs); applyErr != nil {
		req.Status = StatusFailed
		req.DecisionNote = applyErr.Error()
		if err := q.store.Save(data); err != nil {
			slog.Warn("approval store save failed after apply error", "id", req.ID, "error", err)
		}
		q.notify(bus.EventApprovalFailed, *req)
		return *req, fmt.Errorf("apply approved request %s: %w", req.ID, applyErr)
	}

	req.Status = StatusApplied
	if err := q.store.Save(data); err != nil {
		return Request{}, err
	}
	q.notify(bus.EventApprovalApplied, *req)
	return *req, nil
}

// Reject transitions pending -> rejected, terminal.
func (q *Queue) Reject(id string, decision DecisionInput) (Request, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	data, err := q.store.Load()
	if err != nil {
		return Request{}, err
	}

	req, err := q.takePendingLocked(data, id, StatusRejected, decision)
	if err != nil {
		return Request{}, err
	}
	if err := q.store.Save(data); err != nil {
		return Request{}, err
	}
	q.notify(bus.EventApprovalRejected, *req)
	return *req, nil
}

// takePendingLocked finds a request and moves it out of pending, guarding
// against double processing.
func (q *Queue) takePendingLocked(data fileData, id string, status RequestStatus, decision DecisionInput) (*Request, error) {
	requestID := strings.TrimSpace(id)
	if requestID == "" {
		return nil, fmt.Errorf("id is required")
	}

	for i := range data.Requests {
		req := &data.Requests[i]
		if req.ID != requestID {
			continue
		}
		if req.Status != StatusPending {
			return nil, fmt.Errorf("%w: %s is %s", ErrNotPending, requestID, req.Status)
		}

		decidedBy := strings.TrimSpace(decision.DecidedBy)
		if decidedBy == "" {
			decidedBy = "unknown"
		}
		decidedAt := q.now().UTC()
		req.Status = status
		req.DecidedAt = &decidedAt
		req.DecidedBy = decidedBy
		req.DecisionNote = strings.TrimSpace(decision.Note)
		return req, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrNotFound, requestID)
}

func (q *Queue) appendRequestLocked(data fileData, request Request) error {
	data.NextID++
	data.Requests = append(data.Requests, request)
	return q.store.Save(data)
}

func (q *Queue) notify(eventType bus.EventType, req Request) {
	if q.auditor != nil {
		if err := q.auditor.Append(audit.Event{
			Type:       string(eventType),
			ApprovalID: req.ID,
			Actor:      req.DecidedBy,
			Detail:     req.DecisionNote,
		}); err != nil {
			slog.Warn("audit append failed", "type", eventType, "approval_id", req.ID, "error", err)
		}
	}
	if q.events != nil {
		q.events.Publish(bus.Event{
			Type:       eventType,
			ApprovalID: req.ID,
		})
	}
}
