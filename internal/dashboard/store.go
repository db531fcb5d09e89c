package dashboard

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const bookingSelect = `SELECT b.id, COALESCE(c.name, 'Unknown Car'), COALESCE(u.email, u.phone, 'Unknown User'),
	b.start_date, b.end_date, b.total_amount, b.status, b.created_at
	FROM bookings b
	LEFT JOIN cars c ON c.id = b.car_id
	LEFT JOIN users u ON u.id = b.user_id`

func where(sc Scope) (string, []any) {
	switch {
	case sc.OwnerID != "":
		return ` WHERE c.owner_id = $1`, []any{sc.OwnerID}
	case sc.UserID != "":
		return ` WHERE b.user_id = $1`, []any{sc.UserID}
	}
	return "", nil
}

func (s *PostgresStore) Bookings(ctx context.Context, sc Scope) ([]Booking, error) {
	w, args := where(sc)
	return s.query(ctx, bookingSelect+w, args...)
}

func (s *PostgresStore) Recent(ctx context.Context, sc Scope, limit int) ([]Booking, error) {
	w, args := where(sc)
	args = append(args, limit)
	return s.query(ctx, bookingSelect+w+fmt.Sprintf(` ORDER BY b.created_at DESC LIMIT $%d`, len(args)), args...)
}

func (s *PostgresStore) query(ctx context.Context, q string, args ...any) ([]Booking, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []Booking{}
	for rows.Next() {
		var b Booking
		if err := rows.Scan(&b.ID, &b.CarName, &b.UserEmail, &b.StartDate, &b.EndDate,
			&b.TotalAmount, &b.Status, &b.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, b)
	}
	return list, rows.Err()
}

func (s *PostgresStore) CountCars(ctx context.Context, ownerID string) (int, error) {
	var n int
	var err error
	if ownerID == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cars`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cars WHERE owner_id = $1`, ownerID).Scan(&n)
	}
	return n, err
}

func (s *PostgresStore) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

const historySelect = `SELECT b.id, COALESCE(c.name, 'Unknown Car'), COALESCE(u.email, u.phone, 'Unknown User'),
	b.start_date, b.end_date, b.total_amount, b.status, b.created_at,
	COALESCE(c.brand, ''), COALESCE(c.model, ''), COALESCE(c.image, ''), COALESCE(u.full_name, ''), b.user_details
	FROM bookings b
	LEFT JOIN cars c ON c.id = b.car_id
	LEFT JOIN users u ON u.id = b.user_id`

func (s *PostgresStore) History(ctx context.Context, sc Scope) ([]HistoryEntry, error) {
	w, args := where(sc)
	rows, err := s.db.QueryContext(ctx, historySelect+w+` ORDER BY b.created_at DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []HistoryEntry{}
	for rows.Next() {
		var h HistoryEntry
		var details []byte
		if err := rows.Scan(&h.ID, &h.CarName, &h.UserEmail, &h.StartDate, &h.EndDate,
			&h.TotalAmount, &h.Status, &h.CreatedAt,
			&h.CarBrand, &h.CarModel, &h.CarImage, &h.RenterName, &details); err != nil {
			return nil, err
		}
		h.UserDetails = json.RawMessage(details)
		list = append(list, h)
	}
	return list, rows.Err()
}
