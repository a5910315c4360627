// auth_repo_test.go
package repository

import (
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/mdario971/cactus-flasher/internal/models"
)

func newMockRepo(t *testing.T) (*UserRepository, sqlmock.Sqlmock, func()) {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	repo := NewUserRepository(db)
	cleanup := func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatalf("unmet sqlmock expectations: %v", err)
		}
		_ = db.Close()
	}
	return repo, mock, cleanup
}

func TestUserRepository_Create(t *testing.T) {
	tests := []struct {
		name         string
		username     string
		mockExpect   func(sqlmock.Sqlmock)
		wantID       int
		wantErrIs    error
		wantContains string
	}{
		{
			name:     "success",
			username: "alice",
			mockExpect: func(m sqlmock.Sqlmock) {
				m.ExpectExec(regexp.QuoteMeta(insertUserSQL)).
					WithArgs("alice", "h123").
					WillReturnResult(sqlmock.NewResult(42, 1))
			},
			wantID: 42,
		},
		{
			name:     "duplicate username",
			username: "admin",
			mockExpect: func(m sqlmock.Sqlmock) {
				m.ExpectExec(regexp.QuoteMeta(insertUserSQL)).
					WithArgs("admin", "h123").
					WillReturnError(errors.New("constraint failed: UNIQUE constraint failed: users.username (2067)"))
			},
			wantErrIs:    models.ErrValidation,
			wantContains: "already taken",
		},
		{
			name:     "exec error",
			username: "bob",
			mockExpect: func(m sqlmock.Sqlmock) {
				m.ExpectExec(regexp.QuoteMeta(insertUserSQL)).
					WithArgs("bob", "h123").
					WillReturnError(errors.New("disk I/O error"))
			},
			wantContains: "insert user",
		},
		{
			name:     "last insert id error",
			username: "carol",
			mockExpect: func(m sqlmock.Sqlmock) {
				m.ExpectExec(regexp.QuoteMeta(insertUserSQL)).
					WithArgs("carol", "h123").
					WillReturnResult(sqlmock.NewErrorResult(errors.New("no last id")))
			},
			wantContains: "get last insert id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock, cleanup := newMockRepo(t)
			defer cleanup()
			tt.mockExpect(mock)

			id, err := repo.Create(tt.username, "h123")

			if tt.wantContains != "" {
				if err == nil {
					t.Fatalf("expected error, got id=%d", id)
				}
				if !strings.Contains(err.Error(), tt.wantContains) {
					t.Fatalf("error %q does not contain %q", err, tt.wantContains)
				}
				if tt.wantErrIs != nil && !errors.Is(err, tt.wantErrIs) {
					t.Fatalf("error %v is not %v", err, tt.wantErrIs)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if id != tt.wantID {
				t.Fatalf("id = %d; want %d", id, tt.wantID)
			}
		})
	}
}

func TestUserRepository_GetByUsername(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		repo, mock, cleanup := newMockRepo(t)
		defer cleanup()
		mock.ExpectQuery(regexp.QuoteMeta(selectUserByUsernameSQL)).
			WithArgs("alice").
			WillReturnRows(sqlmock.NewRows([]string{"id", "username", "password_hash"}).AddRow(7, "alice", "h123"))

		u, err := repo.GetByUsername("alice")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := models.User{ID: 7, Username: "alice", PasswordHash: "h123"}
		if u == nil || *u != want {
			t.Fatalf("user = %+v; want %+v", u, want)
		}
	})

	t.Run("missing user is nil without error", func(t *testing.T) {
		repo, mock, cleanup := newMockRepo(t)
		defer cleanup()
		mock.ExpectQuery(regexp.QuoteMeta(selectUserByUsernameSQL)).
			WithArgs("ghost").
			WillReturnError(sql.ErrNoRows)

		u, err := repo.GetByUsername("ghost")
		if err != nil || u != nil {
			t.Fatalf("got (%+v, %v); want (nil, nil)", u, err)
		}
	})

	t.Run("query error", func(t *testing.T) {
		repo, mock, cleanup := newMockRepo(t)
		defer cleanup()
		mock.ExpectQuery(regexp.QuoteMeta(selectUserByUsernameSQL)).
			WithArgs("bob").
			WillReturnError(errors.New("db query failed"))

		if _, err := repo.GetByUsername("bob"); err == nil || !strings.Contains(err.Error(), "select user") {
			t.Fatalf("expected wrapped select error, got %v", err)
		}
	})
}

func TestUserRepository_Count(t *testing.T) {
	repo, mock, cleanup := newMockRepo(t)
	defer cleanup()
	mock.ExpectQuery(regexp.QuoteMeta(countUsersSQL)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := repo.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Fatalf("Count = %d; want 3", n)
	}
}
