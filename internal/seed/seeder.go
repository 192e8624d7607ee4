// Package seed creates the demo sales database and fills it with synthetic
// customers and purchases.
package seed

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
)

const createCustomerTable = `
CREATE TABLE IF NOT EXISTS customer (
	customer_id VARCHAR(100) PRIMARY KEY,
	customer_name VARCHAR(100),
	email_address VARCHAR(100) UNIQUE,
	contact_number VARCHAR(50),
	date_of_birth DATE,
	address TEXT
)`

const createPurchaseTable = `
CREATE TABLE IF NOT EXISTS purchase (
	purchase_id VARCHAR(100) PRIMARY KEY,
	customer_id VARCHAR(100) REFERENCES customer(customer_id),
	product_name VARCHAR(100),
	price NUMERIC(10, 2),
	quantity_purchased INTEGER,
	purchase_date TIMESTAMP
)`

const insertCustomer = `
INSERT INTO customer (customer_id, customer_name, email_address, contact_number, date_of_birth, address)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING customer_id`

const insertPurchase = `
INSERT INTO purchase (purchase_id, customer_id, product_name, price, quantity_purchased, purchase_date)
VALUES ($1, $2, $3, $4, $5, $6)`

var databaseNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)

// CreateDatabaseIfNotExists creates name through a connection to the
// maintenance database. It reports whether the database was created.
func CreateDatabaseIfNotExists(ctx context.Context, admin *sql.DB, name string) (bool, error) {
	if !databaseNamePattern.MatchString(name) {
		return false, fmt.Errorf("invalid database name %q", name)
	}
	var one int
	err := admin.QueryRowContext(ctx, `SELECT 1 FROM pg_database WHERE datname = $1`, name).Scan(&one)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, sql.ErrNoRows):
		return false, fmt.Errorf("check database %q: %w", name, err)
	}
	if _, err := admin.ExecContext(ctx, `CREATE DATABASE "`+name+`"`); err != nil {
		return false, fmt.Errorf("create database %q: %w", name, err)
	}
	return true, nil
}

func CreateTables(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, createCustomerTable); err != nil {
		return fmt.Errorf("create customer table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, createPurchaseTable); err != nil {
		return fmt.Errorf("create purchase table: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create tables: %w", err)
	}
	return nil
}

// InsertCustomers inserts all customers in one transaction and returns the
// stored ids in insertion order.
func InsertCustomers(ctx context.Context, db *sql.DB, customers []Customer) ([]string, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ids := make([]string, 0, len(customers))
	for _, c := range customers {
		var id string
		err := tx.QueryRowContext(ctx, insertCustomer,
			c.CustomerID,
			c.CustomerName,
			c.EmailAddress,
			c.ContactNumber,
			c.DateOfBirth.Format("2006-01-02"),
			c.Address,
		).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("insert customer %s: %w", c.CustomerID, err)
		}
		ids = append(ids, id)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit customers: %w", err)
	}
	return ids, nil
}

func InsertPurchases(ctx context.Context, db *sql.DB, purchases []Purchase) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range purchases {
		_, err := tx.ExecContext(ctx, insertPurchase,
			p.PurchaseID,
			p.CustomerID,
			p.ProductName,
			p.Price,
			p.QuantityPurchased,
			p.PurchaseDate.Format("2006-01-02 15:04:05"),
		)
		if err != nil {
			return fmt.Errorf("insert purchase %s: %w", p.PurchaseID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit purchases: %w", err)
	}
	return nil
}

type Summary struct {
	Customers int
	Purchases int
}

// Seeder creates and fills the sales database.
type Seeder struct {
	cfg       Config
	log       *slog.Logger
	generator *Generator
}

func NewSeeder(cfg Config, logger *slog.Logger) *Seeder {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Seeder{cfg: cfg, log: logger, generator: NewGenerator(cfg.Seed)}
}

// EnsureDatabase creates the target database through the maintenance
// connection admin unless it exists or creation is disabled.
func (s *Seeder) EnsureDatabase(ctx context.Context, admin *sql.DB, database string) (bool, error) {
	if !s.cfg.CreateDatabase {
		return false, nil
	}
	created, err := CreateDatabaseIfNotExists(ctx, admin, database)
	if err != nil {
		return false, err
	}
	if created {
		s.log.Info("database created", slog.String("database", database))
	} else {
		s.log.Info("database already exists", slog.String("database", database))
	}
	return created, nil
}

// Fill creates the sales tables in db and inserts the generated rows.
func (s *Seeder) Fill(ctx context.Context, db *sql.DB, database string) (Summary, error) {
	var summary Summary
	if err := CreateTables(ctx, db); err != nil {
		return summary, err
	}
	s.log.Info("tables created (if not existing)")

	customerIDs, err := InsertCustomers(ctx, db, s.generator.Customers(s.cfg.Customers))
	if err != nil {
		return summary, err
	}
	summary.Customers = len(customerIDs)

	purchases, err := s.generator.Purchases(customerIDs, s.cfg.Purchases)
	if err != nil {
		return summary, err
	}
	if err := InsertPurchases(ctx, db, purchases); err != nil {
		return summary, err
	}
	summary.Purchases = len(purchases)

	s.log.Info("seed completed",
		slog.String("database", database),
		slog.Int("customers", summary.Customers),
		slog.Int("purchases", summary.Purchases),
	)
	return summary, nil
}
