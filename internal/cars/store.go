package cars

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Store reads cars and the facts the privacy rule needs, and writes an
// owner's fleet. Writes scoped to an owner report ErrNotFound for cars the
// owner does not have.
type Store interface {
	Get(ctx context.Context, id string) (*Car, error)
	ListPublic(ctx context.Context, f Filter) ([]Car, error)
	OwnerContact(ctx context.Context, carID string) (*OwnerContact, error)
	HasBooking(ctx context.Context, userID, carID string) (bool, error)

	Create(ctx context.Context, ownerID string, l Listing) (*Car, error)
	Update(ctx context.Context, ownerID, carID string, l Listing) (*Car, error)
	SetAvailable(ctx context.Context, ownerID, carID string, available bool) (*Car, error)
	ListByOwner(ctx context.Context, ownerID string) ([]FleetCar, error)
}

// PostgresStore implements Store over database/sql.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const carColumns = `id, owner_id, name, brand, model, year, price_per_day, image, rating,
	passengers, fuel_type, transmission, category, available, location, description,
	array_to_json(features), created_at`

func scanCar(row interface{ Scan(...any) error }, extra ...any) (*Car, error) {
	var c Car
	var features []byte
	dest := append([]any{&c.ID, &c.OwnerID, &c.Name, &c.Brand, &c.Model, &c.Year, &c.PricePerDay,
		&c.Image, &c.Rating, &c.Passengers, &c.FuelType, &c.Transmission, &c.Category,
		&c.Available, &c.Location, &c.Description, &features, &c.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	c.Features = []string{}
	if len(features) > 0 {
		if err := json.Unmarshal(features, &c.Features); err != nil {
			return nil, fmt.Errorf("decode features: %w", err)
		}
	}
	return &c, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Car, error) {
	c, err := scanCar(s.db.QueryRowContext(ctx, `SELECT `+carColumns+` FROM cars WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get car: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ListPublic(ctx context.Context, f Filter) ([]Car, error) {
	var where []string
	var args []any
	if f.Category != "" {
		args = append(args, f.Category)
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}
	if f.Available != nil {
		args = append(args, *f.Available)
		where = append(where, fmt.Sprintf("available = $%d", len(args)))
	}
	q := `SELECT ` + carColumns + ` FROM cars`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list cars: %w", err)
	}
	defer rows.Close()

	list := []Car{}
	for rows.Next() {
		c, err := scanCar(rows)
		if err != nil {
			return nil, fmt.Errorf("scan car: %w", err)
		}
		list = append(list, *c)
	}
	return list, rows.Err()
}

func (s *PostgresStore) OwnerContact(ctx context.Context, carID string) (*OwnerContact, error) {
	var o OwnerContact
	err := s.db.QueryRowContext(ctx,
		`SELECT owner_name, owner_phone, owner_email FROM car_owners WHERE car_id = $1`, carID).
		Scan(&o.Name, &o.Phone, &o.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("owner contact: %w", err)
	}
	return &o, nil
}

func (s *PostgresStore) HasBooking(ctx context.Context, userID, carID string) (bool, error) {
	var ok bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM bookings WHERE user_id = $1 AND car_id = $2)`, userID, carID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("has booking: %w", err)
	}
	return ok, nil
}

// Features travel as a JSON array.
const featuresArg = `ARRAY(SELECT jsonb_array_elements_text(%s::jsonb))`

func encodeFeatures(f []string) (string, error) {
	if f == nil {
		f = []string{}
	}
	b, err := json.Marshal(f)
	return string(b), err
}

func upsertOwner(ctx context.Context, tx *sql.Tx, carID string, o OwnerContact) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO car_owners (car_id, owner_name, owner_phone, owner_email) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (car_id) DO UPDATE SET owner_name = EXCLUDED.owner_name,
		 owner_phone = EXCLUDED.owner_phone, owner_email = EXCLUDED.owner_email`,
		carID, o.Name, o.Phone, o.Email)
	return err
}

func (s *PostgresStore) Create(ctx context.Context, ownerID string, l Listing) (*Car, error) {
	features, err := encodeFeatures(l.Features)
	if err != nil {
		return nil, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	c, err := scanCar(tx.QueryRowContext(ctx,
		`INSERT INTO cars (id, owner_id, name, brand, model, year, price_per_day, image, passengers,
		 fuel_type, transmission, category, location, description, features, available)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, `+fmt.Sprintf(featuresArg, "$15")+`, TRUE)
		 RETURNING `+carColumns,
		uuid.New().String(), ownerID, l.Name, l.Brand, l.Model, l.Year, l.PricePerDay, l.Image, l.Passengers,
		l.FuelType, l.Transmission, l.Category, l.Location, l.Description, features))
	if err != nil {
		return nil, fmt.Errorf("insert car: %w", err)
	}
	if err := upsertOwner(ctx, tx, c.ID, l.contact()); err != nil {
		return nil, fmt.Errorf("insert owner contact: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) Update(ctx context.Context, ownerID, carID string, l Listing) (*Car, error) {
	features, err := encodeFeatures(l.Features)
	if err != nil {
		return nil, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	c, err := scanCar(tx.QueryRowContext(ctx,
		`UPDATE cars SET name = $3, brand = $4, model = $5, year = $6, price_per_day = $7, image = $8,
		 passengers = $9, fuel_type = $10, transmission = $11, category = $12, location = $13,
		 description = $14, features = `+fmt.Sprintf(featuresArg, "$15")+`
		 WHERE id = $1 AND owner_id = $2
		 RETURNING `+carColumns,
		carID, ownerID, l.Name, l.Brand, l.Model, l.Year, l.PricePerDay, l.Image, l.Passengers,
		l.FuelType, l.Transmission, l.Category, l.Location, l.Description, features))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update car: %w", err)
	}
	if err := upsertOwner(ctx, tx, c.ID, l.contact()); err != nil {
		return nil, fmt.Errorf("upsert owner contact: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) SetAvailable(ctx context.Context, ownerID, carID string, available bool) (*Car, error) {
	c, err := scanCar(s.db.QueryRowContext(ctx,
		`UPDATE cars SET available = $3 WHERE id = $1 AND owner_id = $2 RETURNING `+carColumns,
		carID, ownerID, available))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("set availability: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ListByOwner(ctx context.Context, ownerID string) ([]FleetCar, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+carColumns+`,
		 (SELECT COUNT(*) FROM bookings b WHERE b.car_id = cars.id),
		 (SELECT COALESCE(SUM(b.total_amount), 0) FROM bookings b WHERE b.car_id = cars.id)
		 FROM cars WHERE owner_id = $1 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list fleet: %w", err)
	}
	defer rows.Close()

	list := []FleetCar{}
	for rows.Next() {
		var fc FleetCar
		c, err := scanCar(rows, &fc.TotalBookings, &fc.Revenue)
		if err != nil {
			return nil, fmt.Errorf("scan fleet car: %w", err)
		}
		fc.Car = *c
		list = append(list, fc)
	}
	return list, rows.Err()
}
