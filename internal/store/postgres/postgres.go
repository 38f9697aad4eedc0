package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/vovakirdan/wiregate/internal/store"
)

// PostgresStore implements store.UserStore against the web application's
// PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// New opens a connection pool for the given DSN and verifies it.
func New(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// GetActiveUser retrieves an active user by ID from the auth_user table.
func (s *PostgresStore) GetActiveUser(ctx context.Context, id int64) (*store.User, error) {
	const query = `
		SELECT id, username, is_staff
		  FROM auth_user
		 WHERE id = $1
		   AND is_active = true
	`
	var user store.User
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&user.ID, &user.Username, &user.IsStaff); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrUserNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}
