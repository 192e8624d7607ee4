package database

import (
	"context"
	"testing"
)

func TestOpenRequiresDSN(t *testing.T) {
	if _, err := Open(context.Background(), Config{}); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func TestOpenRejectsUnparseableDSNWithOverride(t *testing.T) {
	if _, err := Open(context.Background(), Config{DSN: "postgres://%zz", Database: "postgres"}); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestDatabaseName(t *testing.T) {
	got, err := DatabaseName("postgres://user:pw@localhost:5432/sales_db?sslmode=disable")
	if err != nil {
		t.Fatalf("DatabaseName() error = %v", err)
	}
	if got != "sales_db" {
		t.Fatalf("DatabaseName() = %q", got)
	}

	got, err = DatabaseName("host=localhost user=postgres dbname=analytics sslmode=disable")
	if err != nil {
		t.Fatalf("DatabaseName() error = %v", err)
	}
	if got != "analytics" {
		t.Fatalf("DatabaseName() = %q", got)
	}
}
