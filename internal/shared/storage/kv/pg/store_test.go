package pg

import (
	"context"
	"errors"
	"fmt"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"quizzer-backend/internal/shared/storage/kv"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &Store{DB: db}, mock
}

func TestGetReturnsValue(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT value FROM kv_entries WHERE key = \$1`).
		WithArgs("quizzer:document_cache").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(`[]`)))

	got, err := store.Get(context.Background(), "quizzer:document_cache")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != `[]` {
		t.Fatalf("Get = %q", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetMissingKeyIsNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT value FROM kv_entries WHERE key = \$1`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	if _, err := store.Get(context.Background(), "ghost"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetUpserts(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO kv_entries`).
		WithArgs("k", []byte("v")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Set(context.Background(), "k", []byte("v")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeleteRemovesKey(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`DELETE FROM kv_entries WHERE key = \$1`).
		WithArgs("k").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Delete(context.Background(), "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
}

func TestKeysListsAllRows(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT key FROM kv_entries`).
		WillReturnRows(sqlmock.NewRows([]string{"key"}).AddRow("a").AddRow("b"))

	keys, err := store.Keys(context.Background())
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Fatalf("Keys = %v", keys)
	}
}

type fakePGError struct {
	code string
}

func (e *fakePGError) Error() string    { return "pg error " + e.code }
func (e *fakePGError) SQLState() string { return e.code }

func TestSetClassifiesDriverErrors(t *testing.T) {
	cases := []struct {
		code string
		want error
	}{
		{"53100", kv.ErrQuotaExceeded}, // disk full
		{"53300", kv.ErrQuotaExceeded}, // too many connections
		{"28000", kv.ErrPermission},    // invalid authorization
		{"42501", kv.ErrPermission},    // insufficient privilege
	}

	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			store, mock := newMockStore(t)
			mock.ExpectExec(`INSERT INTO kv_entries`).
				WithArgs("k", []byte("v")).
				WillReturnError(&fakePGError{code: tc.code})

			if err := store.Set(context.Background(), "k", []byte("v")); !errors.Is(err, tc.want) {
				t.Fatalf("code %s: expected %v, got %v", tc.code, tc.want, err)
			}
		})
	}
}

func TestSetPassesThroughUnclassifiedErrors(t *testing.T) {
	store, mock := newMockStore(t)
	raw := fmt.Errorf("connection reset")
	mock.ExpectExec(`INSERT INTO kv_entries`).
		WithArgs("k", []byte("v")).
		WillReturnError(raw)

	err := store.Set(context.Background(), "k", []byte("v"))
	if err == nil || errors.Is(err, kv.ErrQuotaExceeded) || errors.Is(err, kv.ErrPermission) {
		t.Fatalf("expected raw error, got %v", err)
	}
}
