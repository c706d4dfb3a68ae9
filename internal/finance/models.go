// Package finance is the financial core (spec §3, §4.E): transactions,
// employee wallets, payouts, batched payroll, and recurring transaction
// postings, all over shopspring/decimal currency and Postgres row locks.
package finance

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType enumerates the four transaction kinds spec.md names.
type TransactionType string

const (
	TransactionIncome     TransactionType = "INCOME"
	TransactionExpense    TransactionType = "EXPENSE"
	TransactionCommission TransactionType = "COMMISSION"
	TransactionPayroll    TransactionType = "PAYROLL"
)

// Transaction is immutable once created; adjustments are compensating rows.
type Transaction struct {
	ID              string
	TenantID        string
	Type            TransactionType
	Amount          decimal.Decimal
	Currency        string
	ExchangeRate    decimal.Decimal
	Category        string
	BookingID       *string
	TaskID          *string
	PayoutID        *string
	Description     string
	TransactionDate time.Time
	CreatedAt       time.Time
}

// GetTenantID satisfies tenant.Entity.
func (t Transaction) GetTenantID() string { return t.TenantID }

// EmployeeWallet holds a user's pending (unsettled) and payable (settled,
// awaiting payout) commission balances.
type EmployeeWallet struct {
	ID             string
	TenantID       string
	UserID         string
	PendingBalance decimal.Decimal
	PayableBalance decimal.Decimal
}

// GetTenantID satisfies tenant.Entity.
func (w EmployeeWallet) GetTenantID() string { return w.TenantID }

// PayoutStatus enumerates a payout's lifecycle.
type PayoutStatus string

const (
	PayoutPending   PayoutStatus = "PENDING"
	PayoutCompleted PayoutStatus = "COMPLETED"
	PayoutFailed    PayoutStatus = "FAILED"
)

// Payout represents a single disbursement drawn from a wallet's payable
// balance. IdempotencyKey carries the unique constraint that is the
// primary defense against duplicate payouts.
type Payout struct {
	ID               string
	TenantID         string
	UserID           string
	Amount           decimal.Decimal
	Status           PayoutStatus
	IdempotencyKey   string
	GatewayReference *string
	Notes            string
	PayoutDate        time.Time
	CreatedAt        time.Time
}

// GetTenantID satisfies tenant.Entity.
func (p Payout) GetTenantID() string { return p.TenantID }

// RecurringTransactionRule templates a periodic transaction posting
// (supplemented feature: spec.md's data-flow names per-tenant recurring
// transaction processing as a scheduled job class but never defines its
// contract; this fills that gap using the same primitives as payroll).
type RecurringTransactionRule struct {
	ID          string
	TenantID    string
	Type        TransactionType
	Amount      decimal.Decimal
	Currency    string
	Category    string
	Description string
	CronExpr    string
	NextRunAt   time.Time
	Active      bool
}

// GetTenantID satisfies tenant.Entity.
func (r RecurringTransactionRule) GetTenantID() string { return r.TenantID }
