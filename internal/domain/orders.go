package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus tracks the fulfilment lifecycle.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// PaymentStatusPending is the initial payment status of every order.
const PaymentStatusPending = "pending"

// ShippingAddress is the delivery destination captured at checkout.
type ShippingAddress struct {
	FirstName  string
	LastName   string
	Address    string
	City       string
	PostalCode string
	Country    string
	Phone      string
}

// Order is a placed order header with its items.
type Order struct {
	ID              string
	UserID          string
	Status          OrderStatus
	TotalAmount     decimal.Decimal
	PaymentStatus   string
	PaymentMethod   string
	ShippingMethod  string
	ShippingAddress ShippingAddress
	Notes           string
	Items           []OrderItem
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OrderPage is one newest-first slice of a user's order history.
type OrderPage struct {
	Items         []Order
	NextPageToken string
}

// OrderItem captures the product name and price at the time of purchase.
type OrderItem struct {
	ID           string
	OrderID      string
	ProductID    string
	ProductName  string
	ProductPrice decimal.Decimal
	Quantity     int
}

// LineTotal returns the price captured at checkout times the quantity.
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.ProductPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Address is a saved delivery address belonging to a user.
type Address struct {
	ID        string
	UserID    string
	Address   string
	City      string
	Country   string
	IsDefault bool
	CreatedAt time.Time
}

// Profile holds user-editable account details.
type Profile struct {
	ID        string
	Email     string
	FirstName string
	LastName  string
	Phone     string
	Address   string
	City      string
	Country   string
	UpdatedAt time.Time
}

// HealthStatus values reported by readiness checks.
const (
	HealthStatusOK       = "ok"
	HealthStatusDegraded = "degraded"
	HealthStatusError    = "error"
)

// SystemHealthCheck is the outcome of one dependency check.
type SystemHealthCheck struct {
	Status    string
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency checks.
type SystemHealthReport struct {
	Status      string
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	Checks      map[string]SystemHealthCheck
	GeneratedAt time.Time
}
