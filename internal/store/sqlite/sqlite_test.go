package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/vovakirdan/wiregate/internal/store"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewWithSetup(":memory:", func(db *sql.DB) error {
		query := `
		CREATE TABLE auth_user (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			username  TEXT NOT NULL UNIQUE,
			is_staff  BOOLEAN NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT 1
		);
		INSERT INTO auth_user (id, username, is_staff, is_active) VALUES
			(1, 'alice', 0, 1),
			(2, 'mod', 1, 1),
			(3, 'ghost', 0, 0);
		`
		_, err := db.Exec(query)
		return err
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGetActiveUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		id        int64
		wantName  string
		wantStaff bool
		wantErr   error
	}{
		{name: "regular user", id: 1, wantName: "alice"},
		{name: "staff user", id: 2, wantName: "mod", wantStaff: true},
		{name: "inactive user", id: 3, wantErr: store.ErrUserNotFound},
		{name: "missing user", id: 42, wantErr: store.ErrUserNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, err := s.GetActiveUser(ctx, tt.id)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("GetActiveUser failed: %v", err)
			}
			if user.Username != tt.wantName || user.IsStaff != tt.wantStaff {
				t.Fatalf("unexpected user: %+v", user)
			}
		})
	}
}
