package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/pagecut/internal/core/domain"
)

func TestPageLogRepositoryLogPageProcessing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewPageLogRepository(db)
	now := time.Now().UTC()
	mock.ExpectExec("INSERT INTO page_processing_logs").
		WithArgs("doc-1", 3, "yolo", "processed", 4, int64(1500), nil, now).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = repo.LogPageProcessing(context.Background(), domain.PageLogEntry{
		DocumentID: "doc-1", Page: 3, Model: "yolo", Status: "processed", Images: 4,
		Duration: 1500 * time.Millisecond, CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("LogPageProcessing() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPageLogRepositoryListDefaultsLimit(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	repo := NewPageLogRepository(db)
	rows := sqlmock.NewRows([]string{"document_id", "page", "model", "status", "images", "duration_ms", "error_message", "created_at"}).
		AddRow("doc-1", 2, "yolo", "failed", 0, int64(40), "inference failed", time.Now()).
		AddRow("doc-1", 1, "yolo", "processed", 3, int64(900), nil, time.Now())
	mock.ExpectQuery("FROM page_processing_logs").
		WithArgs("doc-1", defaultPageLogLimit).
		WillReturnRows(rows)

	logs, err := repo.ListPageLogs(context.Background(), "doc-1", 0)
	if err != nil {
		t.Fatalf("ListPageLogs() error = %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 logs, got %d", len(logs))
	}
	if logs[0].Error != "inference failed" || logs[1].Duration != 900*time.Millisecond {
		t.Fatalf("unexpected logs %+v", logs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
