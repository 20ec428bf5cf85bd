package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"basin/channel"
	"basin/internal/buffer"
)

var testKey = buffer.PartitionKey{Topic: "events", Partition: 3}

func newTestAdapter(t *testing.T) (*adapter, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &adapter{cfg: Config{Table: "basin_records", OffsetsTable: "basin_offsets"}, db: db}, mock
}

func records(offsets ...int64) []buffer.Record {
	out := make([]buffer.Record, 0, len(offsets))
	for _, off := range offsets {
		out = append(out, buffer.Record{Offset: off, Key: []byte("k"), Value: []byte("v"), Size: 2, Timestamp: time.Unix(1700000000, 0)})
	}
	return out
}

func TestOpen_ResumeOffset(t *testing.T) {
	a, mock := newTestAdapter(t)
	mock.ExpectQuery("SELECT last_offset FROM basin_offsets").
		WithArgs("events", int32(3)).
		WillReturnRows(sqlmock.NewRows([]string{"last_offset"}).AddRow(int64(17)))

	_, resume, err := a.Open(context.Background(), testKey)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if resume != 17 {
		t.Fatalf("resume = %d, want 17", resume)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestOpen_NoRowMeansNothingConfirmed(t *testing.T) {
	a, mock := newTestAdapter(t)
	mock.ExpectQuery("SELECT last_offset FROM basin_offsets").
		WithArgs("events", int32(3)).
		WillReturnRows(sqlmock.NewRows([]string{"last_offset"}))

	_, resume, err := a.Open(context.Background(), testKey)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if resume != -1 {
		t.Fatalf("resume = %d, want -1", resume)
	}
}

func TestWrite_CopiesBatchAndUpsertsOffsetInOneTx(t *testing.T) {
	a, mock := newTestAdapter(t)
	recs := records(18, 19, 20)

	mock.ExpectBegin()
	stmt := mock.ExpectPrepare(`COPY "basin_records"`)
	for _, r := range recs {
		stmt.ExpectExec().
			WithArgs("events", int32(3), r.Offset, r.Key, r.Value, r.Timestamp).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	stmt.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 0)) // COPY flush
	mock.ExpectExec("INSERT INTO basin_offsets").
		WithArgs("events", int32(3), int64(20)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	c := &conn{a: a, key: testKey}
	res, err := c.Write(context.Background(), recs)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if res.Pending || res.Confirmed != 20 {
		t.Fatalf("result = %+v, want synchronous confirm at 20", res)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestWrite_UndefinedColumnIsSchemaMismatch(t *testing.T) {
	a, mock := newTestAdapter(t)
	mock.ExpectBegin()
	mock.ExpectPrepare(`COPY "basin_records"`).
		WillReturnError(&pq.Error{Code: "42703", Message: `column "headers" of relation "basin_records" does not exist`})
	mock.ExpectRollback()

	c := &conn{a: a, key: testKey}
	_, err := c.Write(context.Background(), records(0))
	var sm *channel.SchemaMismatchError
	if !errors.As(err, &sm) {
		t.Fatalf("expected SchemaMismatchError, got %v", err)
	}
	if sm.Offset != 0 {
		t.Fatalf("mismatch offset = %d, want 0", sm.Offset)
	}
}

func TestWrite_ConnectionClassIsRetryable(t *testing.T) {
	a, mock := newTestAdapter(t)
	mock.ExpectBegin()
	mock.ExpectPrepare(`COPY "basin_records"`).
		WillReturnError(&pq.Error{Code: "08006", Message: "connection failure"})
	mock.ExpectRollback()

	c := &conn{a: a, key: testKey}
	_, err := c.Write(context.Background(), records(0))
	if !channel.IsRetryable(err) {
		t.Fatalf("connection-class pq error should be retryable, got %v", err)
	}
}

func TestWrite_ConstraintViolationIsFatal(t *testing.T) {
	a, mock := newTestAdapter(t)
	mock.ExpectBegin()
	stmt := mock.ExpectPrepare(`COPY "basin_records"`)
	stmt.ExpectExec().
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value"})
	mock.ExpectRollback()

	c := &conn{a: a, key: testKey}
	_, err := c.Write(context.Background(), records(0))
	if err == nil || channel.IsRetryable(err) {
		t.Fatalf("constraint violation must be fatal, got %v", err)
	}
	var sm *channel.SchemaMismatchError
	if errors.As(err, &sm) {
		t.Fatalf("constraint violation must not read as schema mismatch")
	}
}
