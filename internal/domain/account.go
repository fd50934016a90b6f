package domain

import "github.com/shopspring/decimal"

// Account is one record in the partition's ledger file. The on-disk layout is
// pipe-delimited in exactly this field order:
//
//	account_id|owner_id|balance|account_type
//
// Accounts are provisioned out of band (or seeded at bootstrap); the worker
// only ever mutates the balance field.
type Account struct {
	AccountID   string          `json:"account_id"`
	OwnerID     string          `json:"owner_id"`
	Balance     decimal.Decimal `json:"balance"`
	AccountType string          `json:"account_type"`
}
