/**
 * @description
 * This file defines the core domain models for the ledger worker. These structs
 * represent the entities persisted by the store layer and the request/result
 * DTOs exchanged between the API and the transfer engine.
 *
 * @notes
 * - Amounts use shopspring/decimal rather than floats so that monetary values
 *   survive parse/format round trips exactly; the wire and file rendering is
 *   always two fraction digits.
 * - Transaction identity is a worker-local, strictly increasing integer
 *   assigned by the transaction log at append time.
 */

package domain

import "github.com/shopspring/decimal"

// Transaction statuses as persisted in the transaction log. Every transfer
// attempt that reaches the funds check produces exactly one record carrying
// one of these.
const (
	TxStatusConfirmed            = "Confirmed"
	TxStatusRejectedInsufficient = "RejectedInsufficientFunds"
	TxStatusCredited             = "Credited"
)

// Transaction is one record of the append-only transaction log. The on-disk
// layout is pipe-delimited in exactly this field order:
//
//	transaction_id|source_account|dest_account|amount|timestamp|status
type Transaction struct {
	ID            int64           `json:"transaction_id"`
	SourceAccount string          `json:"source_account"`
	DestAccount   string          `json:"dest_account"`
	Amount        decimal.Decimal `json:"amount"`
	Timestamp     string          `json:"timestamp"`
	Status        string          `json:"status"`
}

// TransferRequest is the DTO for the origin-leg transfer endpoint. The
// timestamp is optional; the router normally supplies it so that both legs of
// a cross-partition transfer carry the same value.
type TransferRequest struct {
	SourceAccount string          `json:"source_account"`
	DestAccount   string          `json:"dest_account"`
	Amount        decimal.Decimal `json:"amount"`
	Timestamp     string          `json:"timestamp,omitempty"`
}

// TransferResult reports the terminal outcome of an origin-leg transfer.
type TransferResult struct {
	TransactionID int64
	Status        string
	NewBalance    decimal.Decimal
}

// CreditRequest is the DTO for the destination-leg completion callback. The
// transfer reference is a router-assigned UUID; replaying a reference that was
// already applied is safe and credits nothing.
type CreditRequest struct {
	TransferRef   string          `json:"transfer_ref"`
	SourceAccount string          `json:"source_account,omitempty"`
	DestAccount   string          `json:"dest_account"`
	Amount        decimal.Decimal `json:"amount"`
	Timestamp     string          `json:"timestamp,omitempty"`
}

// CreditResult reports the outcome of a destination-leg credit. Duplicate is
// set when the transfer reference had already been applied; in that case no
// balance changed during this call.
type CreditResult struct {
	TransactionID int64
	Duplicate     bool
	NewBalance    decimal.Decimal
}
