package seed

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

func TestCreateDatabaseIfNotExistsCreatesMissingDatabase(t *testing.T) {
	db, mock := newSQLMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM pg_database WHERE datname = $1`)).
		WithArgs("sales_db").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))
	mock.ExpectExec(regexp.QuoteMeta(`CREATE DATABASE "sales_db"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	created, err := CreateDatabaseIfNotExists(context.Background(), db, "sales_db")
	if err != nil {
		t.Fatalf("CreateDatabaseIfNotExists() error = %v", err)
	}
	if !created {
		t.Fatal("created = false")
	}
	assertSQLMock(t, mock)
}

func TestCreateDatabaseIfNotExistsSkipsExistingDatabase(t *testing.T) {
	db, mock := newSQLMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM pg_database WHERE datname = $1`)).
		WithArgs("sales_db").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	created, err := CreateDatabaseIfNotExists(context.Background(), db, "sales_db")
	if err != nil {
		t.Fatalf("CreateDatabaseIfNotExists() error = %v", err)
	}
	if created {
		t.Fatal("created = true for existing database")
	}
	assertSQLMock(t, mock)
}

func TestCreateDatabaseIfNotExistsRejectsInvalidName(t *testing.T) {
	db, _ := newSQLMock(t)
	if _, err := CreateDatabaseIfNotExists(context.Background(), db, `sales"; DROP`); err == nil {
		t.Fatal("expected invalid name error")
	}
}

func TestInsertCustomersReturnsIDs(t *testing.T) {
	db, mock := newSQLMock(t)
	customers := []Customer{
		{CustomerID: "c-1", CustomerName: "Ada", EmailAddress: "ada@example.com", ContactNumber: "555", DateOfBirth: time.Date(1990, 5, 1, 0, 0, 0, 0, time.UTC), Address: "1 Main St, Springfield"},
		{CustomerID: "c-2", CustomerName: "Bob", EmailAddress: "bob@example.com", ContactNumber: "556", DateOfBirth: time.Date(1980, 1, 2, 0, 0, 0, 0, time.UTC), Address: "2 Main St, Springfield"},
	}
	mock.ExpectBegin()
	for _, c := range customers {
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO customer")).
			WithArgs(c.CustomerID, c.CustomerName, c.EmailAddress, c.ContactNumber, c.DateOfBirth.Format("2006-01-02"), c.Address).
			WillReturnRows(sqlmock.NewRows([]string{"customer_id"}).AddRow(c.CustomerID))
	}
	mock.ExpectCommit()

	ids, err := InsertCustomers(context.Background(), db, customers)
	if err != nil {
		t.Fatalf("InsertCustomers() error = %v", err)
	}
	if len(ids) != 2 || ids[0] != "c-1" || ids[1] != "c-2" {
		t.Fatalf("ids = %v", ids)
	}
	assertSQLMock(t, mock)
}

func TestInsertPurchasesRollsBackOnError(t *testing.T) {
	db, mock := newSQLMock(t)
	purchase := Purchase{
		PurchaseID:        "p-1",
		CustomerID:        "c-1",
		ProductName:       "Laptop",
		Price:             999.99,
		QuantityPurchased: 2,
		PurchaseDate:      time.Date(2025, 7, 4, 10, 11, 12, 0, time.UTC),
	}
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO purchase")).
		WithArgs("p-1", "c-1", "Laptop", 999.99, 2, "2025-07-04 10:11:12").
		WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	if err := InsertPurchases(context.Background(), db, []Purchase{purchase}); err == nil {
		t.Fatal("InsertPurchases() expected error")
	}
	assertSQLMock(t, mock)
}

func TestSeederCreatesTablesAndRows(t *testing.T) {
	admin, adminMock := newSQLMock(t)
	db, mock := newSQLMock(t)

	adminMock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM pg_database WHERE datname = $1`)).
		WithArgs("sales_db").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS customer")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS purchase")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectBegin()
	for i := 0; i < 2; i++ {
		mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO customer")).
			WillReturnRows(sqlmock.NewRows([]string{"customer_id"}).AddRow("c-" + string(rune('a'+i))))
	}
	mock.ExpectCommit()
	mock.ExpectBegin()
	for i := 0; i < 3; i++ {
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO purchase")).WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	seeder := NewSeeder(Config{Customers: 2, Purchases: 3, Seed: 5, CreateDatabase: true}, nil)
	created, err := seeder.EnsureDatabase(context.Background(), admin, "sales_db")
	if err != nil {
		t.Fatalf("EnsureDatabase() error = %v", err)
	}
	if created {
		t.Fatal("EnsureDatabase() created an existing database")
	}
	summary, err := seeder.Fill(context.Background(), db, "sales_db")
	if err != nil {
		t.Fatalf("Fill() error = %v", err)
	}
	if summary.Customers != 2 || summary.Purchases != 3 {
		t.Fatalf("summary = %#v", summary)
	}
	assertSQLMock(t, adminMock)
	assertSQLMock(t, mock)
}

func TestSeederEnsureDatabaseSkipsWhenDisabled(t *testing.T) {
	admin, adminMock := newSQLMock(t)
	seeder := NewSeeder(Config{Customers: 1, CreateDatabase: false}, nil)
	created, err := seeder.EnsureDatabase(context.Background(), admin, "sales_db")
	if err != nil || created {
		t.Fatalf("EnsureDatabase() = %v, %v", created, err)
	}
	assertSQLMock(t, adminMock)
}
