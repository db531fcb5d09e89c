package roles

import (
	"context"
	"database/sql"
	"fmt"
)

// Store is the backing role table.
type Store interface {
	List(ctx context.Context, userID string) ([]Role, error)
	Exists(ctx context.Context, userID string, role Role) (bool, error)
	Insert(ctx context.Context, userID string, role Role) error
	Delete(ctx context.Context, userID string, role Role) error
}

// PostgresStore implements Store on the user_roles table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store on db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) List(ctx context.Context, userID string) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role FROM user_roles WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()

	var out []Role
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		r, err := Parse(raw)
		if err != nil {
			// Unknown values grant nothing.
			continue
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Exists(ctx context.Context, userID string, role Role) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM user_roles WHERE user_id = $1 AND role = $2)`,
		userID, string(role)).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check role: %w", err)
	}
	return ok, nil
}

// Insert adds a role record. Granting a role the user already has is a no-op.
func (s *PostgresStore) Insert(ctx context.Context, userID string, role Role) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_roles (user_id, role) VALUES ($1, $2)
		 ON CONFLICT (user_id, role) DO NOTHING`,
		userID, string(role))
	if err != nil {
		return fmt.Errorf("insert role: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, userID string, role Role) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM user_roles WHERE user_id = $1 AND role = $2`,
		userID, string(role))
	if err != nil {
		return fmt.Errorf("delete role: %w", err)
	}
	return nil
}
