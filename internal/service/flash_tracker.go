package service

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mdario971/cactus-flasher/internal/models"
)

// historyCap bounds how many operations a tracker remembers.
const historyCap = 200

// shortID returns the first 8 characters of a random UUID.
func shortID() string {
	return uuid.NewString()[:8]
}

// FlashTracker holds the in-memory state of firmware uploads.
// Progress only moves forward and a finished operation never changes again.
type FlashTracker struct {
	mu  sync.RWMutex
	ops map[string]*models.FlashOperation
	now func() time.Time
}

func NewFlashTracker() *FlashTracker {
	return &FlashTracker{ops: make(map[string]*models.FlashOperation), now: time.Now}
}

// Create registers a pending operation for board.
func (t *FlashTracker) Create(board string) models.FlashOperation {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now().UTC()
	op := &models.FlashOperation{
		FlashID:   shortID(),
		BoardName: board,
		Status:    models.FlashPending,
		Message:   "Queued",
		CreatedAt: now,
		UpdatedAt: now,
	}
	for t.ops[op.FlashID] != nil {
		op.FlashID = shortID()
	}
	t.ops[op.FlashID] = op
	t.evict()
	return *op
}

// Begin moves a pending operation to uploading.
func (t *FlashTracker) Begin(id, message string) {
	t.update(id, func(op *models.FlashOperation) {
		op.Status = models.FlashUploading
		op.Message = message
	})
}

// Progress records upload progress. Values below the current one are ignored and
// 100 is reserved for success.
func (t *FlashTracker) Progress(id string, percent int, message string) {
	t.update(id, func(op *models.FlashOperation) {
		if op.Status == models.FlashPending {
			op.Status = models.FlashUploading
		}
		percent = min(max(percent, 0), 99)
		if percent > op.Progress {
			op.Progress = percent
		}
		if message != "" {
			op.Message = message
		}
	})
}

func (t *FlashTracker) Succeed(id, message string) {
	t.update(id, func(op *models.FlashOperation) {
		op.Status = models.FlashSuccess
		op.Progress = 100
		op.Message = message
	})
}

// Fail terminates the operation. kind classifies the failure and may be empty.
func (t *FlashTracker) Fail(id, kind, message string) {
	t.update(id, func(op *models.FlashOperation) {
		op.Status = models.FlashFailed
		op.Failure = kind
		op.Message = message
		if op.Progress >= 100 {
			op.Progress = 99
		}
	})
}

func (t *FlashTracker) update(id string, fn func(op *models.FlashOperation)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	op, ok := t.ops[id]
	if !ok || op.Terminal() {
		return
	}
	fn(op)
	op.UpdatedAt = t.now().UTC()
}

func (t *FlashTracker) Get(id string) (models.FlashOperation, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	op, ok := t.ops[id]
	if !ok {
		return models.FlashOperation{}, false
	}
	return *op, true
}

// List returns snapshots of every operation, newest first.
func (t *FlashTracker) List() []models.FlashOperation {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.FlashOperation, 0, len(t.ops))
	for _, op := range t.ops {
		out = append(out, *op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// evict drops the oldest finished operations once the history is over capacity.
// Running operations are never dropped. Callers hold mu.
func (t *FlashTracker) evict() {
	if len(t.ops) <= historyCap {
		return
	}
	var done []*models.FlashOperation
	for _, op := range t.ops {
		if op.Terminal() {
			done = append(done, op)
		}
	}
	sort.Slice(done, func(i, j int) bool { return done[i].CreatedAt.Before(done[j].CreatedAt) })
	for _, op := range done {
		if len(t.ops) <= historyCap {
			return
		}
		delete(t.ops, op.FlashID)
	}
}
