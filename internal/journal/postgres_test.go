package journal

import (
	"context"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/narenallam/e-commerce-saga/internal/saga"
)

func TestPostgresRecorderInitSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS saga_journal").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if _, err := NewPostgresRecorderWithSchema(context.Background(), db); err != nil {
		t.Fatalf("NewPostgresRecorderWithSchema returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRecorderUpsertsSnapshot(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	rec := NewPostgresRecorder(db)
	snap := testSnapshot(saga.StatusFailed)
	idx := 2
	snap.FailedStepIndex = &idx

	mock.ExpectExec("INSERT INTO saga_journal").
		WithArgs(
			snap.SagaID, "FAILED", snap.Description, sqlmock.AnyArg(),
			snap.StepsCompleted, snap.TotalSteps, sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := rec.Record(context.Background(), snap); err != nil {
		t.Fatalf("Record returned error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRecorderPropagatesErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("INSERT INTO saga_journal").
		WillReturnError(errors.New("connection reset"))

	rec := NewPostgresRecorder(db)
	if err := rec.Record(context.Background(), testSnapshot(saga.StatusStarted)); err == nil {
		t.Fatal("expected error from failed insert")
	}
}

func TestNopRecorder(t *testing.T) {
	if err := (Nop{}).Record(context.Background(), testSnapshot(saga.StatusCompleted)); err != nil {
		t.Fatalf("Nop.Record returned error: %v", err)
	}
}
