// Package queue implements the persistent, idempotent execution queue of
// tasks that are ready to be processed.
//
// Entries are drained by priority descending, then by creation time
// ascending. At most one entry exists per task; the guarantee is enforced by
// the Store (a storage-level uniqueness constraint), not by this package.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotQueued is returned when a task has no queue entry.
	ErrNotQueued = errors.New("task is not queued")
	// ErrInvalidTransition is returned when an entry is not in a status the
	// operation accepts.
	ErrInvalidTransition = errors.New("invalid queue transition")
)

// DefaultMaxAttempts is used when neither the caller nor the queue specify one.
const DefaultMaxAttempts = 3

// Status is the processing state of a queue entry.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Entry is a queued task.
type Entry struct {
	ID           string
	TaskID       string
	AgentID      string
	Priority     int
	Status       Status
	ScheduledFor *time.Time // Not eligible before this time, if set
	Attempts     int
	MaxAttempts  int
	LastError    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Options tune a new entry.
type Options struct {
	Priority     int
	ScheduledFor *time.Time
	MaxAttempts  int
}

// Counts aggregates entries by status.
type Counts struct {
	Pending    int
	Processing int
	Completed  int
	Failed     int
	Total      int
}

// Active returns the number of entries still waiting or being processed.
func (c Counts) Active() int {
	return c.Pending + c.Processing
}

// Store is the persistence contract the queue relies on.
type Store interface {
	// InsertQueueEntry inserts e unless an entry for e.TaskID exists.
	// It must be atomic: concurrent inserts for one task yield one row.
	// Returns true when a row was created.
	InsertQueueEntry(ctx context.Context, e *Entry) (bool, error)
	// GetQueueEntry returns ErrNotQueued (wrapped) when missing.
	GetQueueEntry(ctx context.Context, taskID string) (*Entry, error)
	CountQueueEntries(ctx context.Context) (map[Status]int, error)
	DeleteQueueEntries(ctx context.Context, status *Status) (int64, error)
	// ClaimNextQueueEntry marks the next eligible PENDING entry as PROCESSING
	// and increments its attempts. Returns nil when nothing is eligible.
	ClaimNextQueueEntry(ctx context.Context, now time.Time) (*Entry, error)
	// UpdateQueueEntry writes the mutable fields of e only while the stored
	// entry is in one of the from statuses. Returns false when it is not,
	// or when the entry is missing.
	UpdateQueueEntry(ctx context.Context, e *Entry, from ...Status) (bool, error)
}

// Queue is the execution queue service.
type Queue struct {
	store       Store
	maxAttempts int
	now         func() time.Time
}

// New creates a queue backed by store. maxAttempts is the default for
// entries added without an explicit limit.
func New(store Store, maxAttempts int) *Queue {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Queue{
		store:       store,
		maxAttempts: maxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Add enqueues taskID for agentID. It is idempotent: if the task already has
// an entry, that entry is returned unchanged and created is false.
func (q *Queue) Add(ctx context.Context, taskID, agentID string, opts Options) (entry *Entry, created bool, err error) {
	if taskID == "" {
		return nil, false, fmt.Errorf("task ID is required")
	}
	if agentID == "" {
		return nil, false, fmt.Errorf("task %s: agent ID is required", taskID)
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.maxAttempts
	}

	now := q.now()
	entry = &Entry{
		TaskID:       taskID,
		AgentID:      agentID,
		Priority:     opts.Priority,
		Status:       StatusPending,
		ScheduledFor: opts.ScheduledFor,
		MaxAttempts:  maxAttempts,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	created, err = q.store.InsertQueueEntry(ctx, entry)
	if err != nil {
		return nil, false, fmt.Errorf("enqueue task %s: %w", taskID, err)
	}
	if created {
		return entry, true, nil
	}

	existing, err := q.store.GetQueueEntry(ctx, taskID)
	if err != nil {
		return nil, false, fmt.Errorf("load existing entry for task %s: %w", taskID, err)
	}
	return existing, false, nil
}

// IsQueued reports whether taskID has an entry in any status.
func (q *Queue) IsQueued(ctx context.Context, taskID string) (bool, error) {
	_, err := q.store.GetQueueEntry(ctx, taskID)
	if errors.Is(err, ErrNotQueued) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Get returns the entry for taskID.
func (q *Queue) Get(ctx context.Context, taskID string) (*Entry, error) {
	return q.store.GetQueueEntry(ctx, taskID)
}

// Status returns entry counts by status.
func (q *Queue) Status(ctx context.Context) (Counts, error) {
	byStatus, err := q.store.CountQueueEntries(ctx)
	if err != nil {
		return Counts{}, fmt.Errorf("count queue entries: %w", err)
	}

	counts := Counts{
		Pending:    byStatus[StatusPending],
		Processing: byStatus[StatusProcessing],
		Completed:  byStatus[StatusCompleted],
		Failed:     byStatus[StatusFailed],
	}
	counts.Total = counts.Pending + counts.Processing + counts.Completed + counts.Failed
	return counts, nil
}

// Clear removes entries, all of them when status is nil.
func (q *Queue) Clear(ctx context.Context, status *Status) (int64, error) {
	if status != nil && !status.Valid() {
		return 0, fmt.Errorf("unknown queue status %q", *status)
	}
	return q.store.DeleteQueueEntries(ctx, status)
}

// Next claims the highest-priority eligible entry for processing.
// Returns nil, nil when the queue has nothing eligible.
func (q *Queue) Next(ctx context.Context) (*Entry, error) {
	return q.store.ClaimNextQueueEntry(ctx, q.now())
}

// Complete marks the entry for taskID as COMPLETED. Only PENDING and
// PROCESSING entries can complete.
func (q *Queue) Complete(ctx context.Context, taskID string) error {
	entry, err := q.store.GetQueueEntry(ctx, taskID)
	if err != nil {
		return err
	}
	entry.Status = StatusCompleted
	entry.LastError = ""
	entry.UpdatedAt = q.now()
	return q.transition(ctx, "complete", entry, StatusPending, StatusProcessing)
}

// Fail records a failed processing attempt of a PROCESSING entry. The entry
// goes back to PENDING while attempts remain, otherwise it becomes FAILED.
func (q *Queue) Fail(ctx context.Context, taskID string, cause error) (*Entry, error) {
	entry, err := q.store.GetQueueEntry(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if cause != nil {
		entry.LastError = cause.Error()
	}
	if entry.Attempts >= entry.MaxAttempts {
		entry.Status = StatusFailed
	} else {
		entry.Status = StatusPending
	}
	entry.UpdatedAt = q.now()

	if err := q.transition(ctx, "fail", entry, StatusProcessing); err != nil {
		return nil, err
	}
	return entry, nil
}

// transition writes entry if the stored entry is still in one of from.
func (q *Queue) transition(ctx context.Context, op string, entry *Entry, from ...Status) error {
	ok, err := q.store.UpdateQueueEntry(ctx, entry, from...)
	if err != nil {
		return fmt.Errorf("%s task %s: %w", op, entry.TaskID, err)
	}
	if ok {
		return nil
	}

	current, err := q.store.GetQueueEntry(ctx, entry.TaskID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%s task %s: entry is %s: %w", op, entry.TaskID, current.Status, ErrInvalidTransition)
}
