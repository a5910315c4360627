package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/mdario971/cactus-flasher/internal/models"
)

type Authorization interface {
	Create(username, hash string) (int, error)
	GetByUsername(username string) (*models.User, error)
	Count() (int, error)
}

// BoardRepo persists the board registry.
type BoardRepo interface {
	List(ctx context.Context) ([]models.Board, error)
	Get(ctx context.Context, name string) (models.Board, error)
	Create(ctx context.Context, b models.Board) error
	Update(ctx context.Context, name string, u models.BoardUpdate) (models.Board, error)
	Delete(ctx context.Context, name string) error
	SaveScan(ctx context.Context, name string, u models.ScanUpdate) error
}

// StatusLogRepo persists online/offline transitions.
type StatusLogRepo interface {
	Record(ctx context.Context, e models.StatusLogEntry) (bool, error)
	List(ctx context.Context, limit int, board string) ([]models.StatusLogEntry, error)
	DeleteEntry(ctx context.Context, ts time.Time, board string) error
	Clear(ctx context.Context) error
}

type Repository struct {
	Boards    BoardRepo
	StatusLog StatusLogRepo
	Auth      Authorization
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		Boards:    NewBoardSQLite(db),
		StatusLog: NewStatusLogSQLite(db),
		Auth:      NewUserRepository(db),
	}
}
