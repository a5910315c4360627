package service

import (
	"context"
	"strings"
	"time"

	"github.com/mdario971/cactus-flasher/internal/models"
	"github.com/mdario971/cactus-flasher/internal/repository"
)

const defaultLogLimit = 100

// StatusLogService records reachability transitions of boards.
type StatusLogService struct {
	repo repository.StatusLogRepo
	now  func() time.Time
}

func NewStatusLogService(repo repository.StatusLogRepo) *StatusLogService {
	return &StatusLogService{repo: repo, now: time.Now}
}

// Record appends a transition when the event differs from the board's last one.
func (s *StatusLogService) Record(ctx context.Context, board string, online bool, details string) (bool, error) {
	event := models.EventOffline
	if online {
		event = models.EventOnline
	}
	return s.repo.Record(ctx, models.StatusLogEntry{
		Timestamp: s.now().UTC(),
		BoardName: board,
		Event:     event,
		Details:   details,
	})
}

// List returns entries newest first. Limit defaults to 100 and never exceeds the log capacity.
func (s *StatusLogService) List(ctx context.Context, f LogFilter) ([]models.StatusLogEntry, error) {
	switch {
	case f.Limit <= 0:
		f.Limit = defaultLogLimit
	case f.Limit > repository.StatusLogCap:
		f.Limit = repository.StatusLogCap
	}
	return s.repo.List(ctx, f.Limit, strings.TrimSpace(f.Board))
}

func (s *StatusLogService) DeleteEntry(ctx context.Context, ts time.Time, board string) error {
	if ts.IsZero() || board == "" {
		return models.Invalid("entry", "timestamp and board_name are required")
	}
	return s.repo.DeleteEntry(ctx, ts, board)
}

func (s *StatusLogService) Clear(ctx context.Context) error {
	return s.repo.Clear(ctx)
}
