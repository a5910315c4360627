package service

import (
	"sort"
	"sync"
	"time"

	"github.com/mdario971/cactus-flasher/internal/models"
)

// BuildTracker holds the in-memory state of compilations.
type BuildTracker struct {
	mu  sync.RWMutex
	ops map[string]*models.BuildOperation
	now func() time.Time
}

func NewBuildTracker() *BuildTracker {
	return &BuildTracker{ops: make(map[string]*models.BuildOperation), now: time.Now}
}

// Create registers a pending build with a fresh id.
func (t *BuildTracker) Create(project models.ProjectType, boardType string) models.BuildOperation {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now().UTC()
	op := &models.BuildOperation{
		BuildID:     shortID(),
		ProjectType: project,
		BoardType:   boardType,
		Status:      models.BuildPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for t.ops[op.BuildID] != nil {
		op.BuildID = shortID()
	}
	t.ops[op.BuildID] = op
	t.evict()
	return *op
}

func (t *BuildTracker) Begin(id string) {
	t.update(id, func(op *models.BuildOperation) {
		op.Status = models.BuildBuilding
		op.Message = "Building..."
	})
}

func (t *BuildTracker) Succeed(id, firmwarePath, logs string) {
	t.update(id, func(op *models.BuildOperation) {
		op.Status = models.BuildSuccess
		op.Message = "Build successful"
		op.FirmwarePath = firmwarePath
		op.Logs = logs
	})
}

func (t *BuildTracker) Fail(id, message, logs string) {
	t.update(id, func(op *models.BuildOperation) {
		op.Status = models.BuildFailed
		op.Message = message
		op.Logs = logs
	})
}

func (t *BuildTracker) update(id string, fn func(op *models.BuildOperation)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	op, ok := t.ops[id]
	if !ok || op.Terminal() {
		return
	}
	fn(op)
	op.UpdatedAt = t.now().UTC()
}

func (t *BuildTracker) Get(id string) (models.BuildOperation, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	op, ok := t.ops[id]
	if !ok {
		return models.BuildOperation{}, false
	}
	return *op, true
}

// List returns snapshots newest first.
func (t *BuildTracker) List() []models.BuildOperation {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.BuildOperation, 0, len(t.ops))
	for _, op := range t.ops {
		out = append(out, *op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (t *BuildTracker) evict() {
	if len(t.ops) <= historyCap {
		return
	}
	var done []*models.BuildOperation
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
		delete(t.ops, op.BuildID)
	}
}
