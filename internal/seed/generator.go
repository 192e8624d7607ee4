package seed

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
)

var Products = []string{
	"Laptop", "Smartphone", "Headphones",
	"Monitor", "Keyboard", "Mouse", "Tablet",
	"Camera", "Smartwatch", "Printer",
}

type Customer struct {
	CustomerID    string
	CustomerName  string
	EmailAddress  string
	ContactNumber string
	DateOfBirth   time.Time
	Address       string
}

type Purchase struct {
	PurchaseID        string
	CustomerID        string
	ProductName       string
	Price             float64
	QuantityPurchased int
	PurchaseDate      time.Time
}

// Generator produces the synthetic customer/purchase dataset. Output is
// deterministic for a seed and a fixed clock.
type Generator struct {
	faker  *gofakeit.Faker
	emails map[string]struct{}
	now    func() time.Time
}

func NewGenerator(seed int64) *Generator {
	return &Generator{
		faker:  gofakeit.New(uint64(seed)),
		emails: make(map[string]struct{}),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (g *Generator) Customers(n int) []Customer {
	now := g.now()
	oldest := now.AddDate(-100, 0, 0)
	youngest := now.AddDate(-18, 0, 0)

	customers := make([]Customer, 0, n)
	for i := 0; i < n; i++ {
		birthday := g.faker.DateRange(oldest, youngest)
		customers = append(customers, Customer{
			CustomerID:    g.id(),
			CustomerName:  g.faker.Name(),
			EmailAddress:  g.uniqueEmail(),
			ContactNumber: g.faker.Phone(),
			DateOfBirth:   time.Date(birthday.Year(), birthday.Month(), birthday.Day(), 0, 0, 0, 0, time.UTC),
			Address:       strings.ReplaceAll(g.faker.Address().Address, "\n", ", "),
		})
	}
	return customers
}

// Purchases spreads n purchases uniformly over customerIDs and Products.
func (g *Generator) Purchases(customerIDs []string, n int) ([]Purchase, error) {
	if len(customerIDs) == 0 && n > 0 {
		return nil, fmt.Errorf("customer ids are required")
	}
	now := g.now()
	start := now.AddDate(-2, 0, 0)

	purchases := make([]Purchase, 0, n)
	for i := 0; i < n; i++ {
		purchases = append(purchases, Purchase{
			PurchaseID:        g.id(),
			CustomerID:        customerIDs[g.faker.Number(0, len(customerIDs)-1)],
			ProductName:       g.faker.RandomString(Products),
			Price:             round2(g.faker.Float64Range(10, 2000)),
			QuantityPurchased: g.faker.Number(1, 5),
			PurchaseDate:      g.faker.DateRange(start, now).Truncate(time.Second),
		})
	}
	return purchases, nil
}

// id draws a version 4 uuid from the faker so ids follow the seed.
func (g *Generator) id() string {
	id, err := uuid.Parse(g.faker.UUID())
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (g *Generator) uniqueEmail() string {
	for attempt := 0; ; attempt++ {
		email := g.faker.Email()
		if attempt > 10 {
			email = fmt.Sprintf("%d.%s", attempt, email)
		}
		if _, taken := g.emails[email]; taken {
			continue
		}
		g.emails[email] = struct{}{}
		return email
	}
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
