package booking

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Store persists reservations.
type Store interface {
	// Create inserts r unless a reservation with the same idempotency key
	// exists, in which case that one is returned.
	Create(ctx context.Context, r Reservation) (*Reservation, error)
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const reservationColumns = `id, user_id, car_id, start_date, end_date, total_amount, status,
	user_details, idempotency_key, created_at`

func (s *PostgresStore) Create(ctx context.Context, r Reservation) (*Reservation, error) {
	details, err := json.Marshal(r.Details)
	if err != nil {
		return nil, err
	}

	out, err := scanReservation(s.db.QueryRowContext(ctx,
		`INSERT INTO bookings (id, user_id, car_id, start_date, end_date, total_amount, status, user_details, idempotency_key)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (idempotency_key) DO NOTHING
		 RETURNING `+reservationColumns,
		r.ID, r.UserID, r.CarID, r.StartDate.String(), r.EndDate.String(),
		r.TotalAmount, r.Status, details, r.IdempotencyKey))
	if errors.Is(err, sql.ErrNoRows) {
		// Already created by an earlier attempt with this key.
		out, err = scanReservation(s.db.QueryRowContext(ctx,
			`SELECT `+reservationColumns+` FROM bookings WHERE idempotency_key = $1`, r.IdempotencyKey))
	}
	if err != nil {
		return nil, fmt.Errorf("create reservation: %w", err)
	}
	return out, nil
}

func scanReservation(row interface{ Scan(...any) error }) (*Reservation, error) {
	var r Reservation
	var details []byte
	err := row.Scan(&r.ID, &r.UserID, &r.CarID, &r.StartDate.Time, &r.EndDate.Time,
		&r.TotalAmount, &r.Status, &details, &r.IdempotencyKey, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(details, &r.Details); err != nil {
		return nil, fmt.Errorf("decode user_details: %w", err)
	}
	return &r, nil
}
