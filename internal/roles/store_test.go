package roles

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPostgresStore_List(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT role FROM user_roles WHERE user_id = \$1`).
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("user").AddRow("car-owner").AddRow("bogus"))

	got, err := NewPostgresStore(db).List(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0] != Customer || got[1] != CarOwner {
		t.Errorf("List = %v, expected [customer car-owner]", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStore_InsertIsIdempotent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`INSERT INTO user_roles .+ ON CONFLICT \(user_id, role\) DO NOTHING`).
		WithArgs("u-1", "car-owner").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := NewPostgresStore(db).Insert(context.Background(), "u-1", CarOwner); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresStore_ExistsError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	boom := errors.New("boom")
	mock.ExpectQuery(`SELECT EXISTS`).WithArgs("u-1", "admin").WillReturnError(boom)

	_, err = NewPostgresStore(db).Exists(context.Background(), "u-1", Admin)
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped boom, got %v", err)
	}
}

func TestPostgresStore_Delete(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`DELETE FROM user_roles WHERE user_id = \$1 AND role = \$2`).
		WithArgs("u-1", "admin").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := NewPostgresStore(db).Delete(context.Background(), "u-1", Admin); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
