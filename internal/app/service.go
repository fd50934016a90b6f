/**
 * @description
 * This file contains the core business logic of the ledger worker. The Service
 * struct composes the ledger store, the transaction log and the credit
 * registry into the operations the HTTP layer exposes: the origin-leg transfer
 * state machine, the idempotent destination-leg credit, and the read-only
 * queries (single balance, partition cash position, audit listing).
 *
 * Key properties:
 * - The funds check and the debit happen inside one ledger critical section,
 *   so concurrent transfers against the same account cannot double-debit.
 * - Every attempt that reaches the funds check produces exactly one
 *   transaction record; rejected parameters and wrong-partition lookups
 *   produce none.
 * - A debit that commits but cannot be logged is a genuine inconsistency. It
 *   is surfaced as ErrInconsistency and never auto-compensated; the caller is
 *   expected to escalate for out-of-band reconciliation.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/shardbank/ledger-worker/internal/domain"
	"github.com/shardbank/ledger-worker/internal/store"
)

var (
	// ErrInvalidTransfer rejects a transfer before any store access; no
	// transaction record is written for it.
	ErrInvalidTransfer = errors.New("source_account, dest_account and a positive amount are required")

	// ErrInvalidCredit rejects a credit callback with a missing or non-UUID
	// transfer reference, missing destination, or non-positive amount.
	ErrInvalidCredit = errors.New("a valid transfer_ref, dest_account and a positive amount are required")

	// ErrInconsistency reports a balance mutation that committed while its
	// audit record did not. The worker does not attempt to compensate.
	ErrInconsistency = errors.New("balance updated but transaction log append failed")
)

// timestampLayout matches the format the router stamps on both legs of a
// transfer.
const timestampLayout = "2006-01-02 15:04:05"

// Service provides the transfer engine and the query operations.
type Service struct {
	ledger  *store.LedgerStore
	txlog   *store.TransactionLog
	credits *store.CreditRegistry
	logger  *zap.Logger
}

// NewService wires the stores into a service instance.
func NewService(ledger *store.LedgerStore, txlog *store.TransactionLog, credits *store.CreditRegistry, logger *zap.Logger) *Service {
	return &Service{
		ledger:  ledger,
		txlog:   txlog,
		credits: credits,
		logger:  logger,
	}
}

// Transfer executes the origin-side leg of a funds transfer: validate, debit
// the source account, record the outcome. Crediting the destination is the
// owning worker's job, driven by the router; this method never touches the
// destination balance.
//
// On insufficient funds the rejected attempt is still logged and the result
// carries the rejection record's id alongside store.ErrInsufficientFunds.
func (s *Service) Transfer(ctx context.Context, req domain.TransferRequest) (*domain.TransferResult, error) {
	if strings.TrimSpace(req.SourceAccount) == "" ||
		strings.TrimSpace(req.DestAccount) == "" ||
		!req.Amount.IsPositive() {
		return nil, ErrInvalidTransfer
	}
	ts := req.Timestamp
	if ts == "" {
		ts = time.Now().Format(timestampLayout)
	}

	newBalance, err := s.ledger.Debit(req.SourceAccount, req.Amount)
	if errors.Is(err, store.ErrAccountNotFound) {
		// Wrong partition: the router must retry against the worker that owns
		// the source account. No record is written here.
		return nil, err
	}
	if errors.Is(err, store.ErrInsufficientFunds) {
		id, logErr := s.txlog.Append(domain.Transaction{
			SourceAccount: req.SourceAccount,
			DestAccount:   req.DestAccount,
			Amount:        req.Amount,
			Timestamp:     ts,
			Status:        domain.TxStatusRejectedInsufficient,
		})
		if logErr != nil {
			return nil, fmt.Errorf("recording rejected transfer: %w", logErr)
		}
		s.logger.Info("transfer rejected",
			zap.Int64("transaction_id", id),
			zap.String("source_account", req.SourceAccount),
			zap.String("amount", req.Amount.StringFixed(2)),
			zap.String("balance", newBalance.StringFixed(2)),
		)
		return &domain.TransferResult{
			TransactionID: id,
			Status:        domain.TxStatusRejectedInsufficient,
		}, store.ErrInsufficientFunds
	}
	if err != nil {
		// The rewrite did not commit, so funds are untouched.
		return nil, fmt.Errorf("debiting source account: %w", err)
	}

	id, err := s.txlog.Append(domain.Transaction{
		SourceAccount: req.SourceAccount,
		DestAccount:   req.DestAccount,
		Amount:        req.Amount,
		Timestamp:     ts,
		Status:        domain.TxStatusConfirmed,
	})
	if err != nil {
		s.logger.Error("debit committed but transaction was not recorded; manual reconciliation required",
			zap.String("source_account", req.SourceAccount),
			zap.String("dest_account", req.DestAccount),
			zap.String("amount", req.Amount.StringFixed(2)),
			zap.Error(err),
		)
		return nil, ErrInconsistency
	}

	s.logger.Info("origin leg confirmed",
		zap.Int64("transaction_id", id),
		zap.String("source_account", req.SourceAccount),
		zap.String("dest_account", req.DestAccount),
		zap.String("amount", req.Amount.StringFixed(2)),
		zap.String("new_balance", newBalance.StringFixed(2)),
	)
	return &domain.TransferResult{
		TransactionID: id,
		Status:        domain.TxStatusConfirmed,
		NewBalance:    newBalance,
	}, nil
}

// ApplyCredit executes the destination-side leg of a transfer, keyed by the
// router-assigned transfer reference. Replaying an applied reference reports
// Duplicate without moving money, so the router can safely retry completion
// until it gets an answer.
func (s *Service) ApplyCredit(ctx context.Context, req domain.CreditRequest) (*domain.CreditResult, error) {
	ref := strings.TrimSpace(req.TransferRef)
	if _, err := uuid.Parse(ref); err != nil {
		return nil, ErrInvalidCredit
	}
	if strings.TrimSpace(req.DestAccount) == "" || !req.Amount.IsPositive() {
		return nil, ErrInvalidCredit
	}
	ts := req.Timestamp
	if ts == "" {
		ts = time.Now().Format(timestampLayout)
	}

	if txID, dup := s.credits.Claim(ref); dup {
		s.logger.Info("credit replayed",
			zap.String("transfer_ref", ref),
			zap.Int64("transaction_id", txID),
		)
		return &domain.CreditResult{TransactionID: txID, Duplicate: true}, nil
	}

	newBalance, err := s.ledger.Credit(req.DestAccount, req.Amount)
	if err != nil {
		s.credits.Release(ref)
		if errors.Is(err, store.ErrAccountNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("crediting destination account: %w", err)
	}

	id, err := s.txlog.Append(domain.Transaction{
		SourceAccount: req.SourceAccount,
		DestAccount:   req.DestAccount,
		Amount:        req.Amount,
		Timestamp:     ts,
		Status:        domain.TxStatusCredited,
	})
	if err != nil {
		// The credit is already in the ledger. Keep the claim committed so a
		// replay cannot credit twice, and surface the missing audit record.
		if commitErr := s.credits.Commit(ref, 0); commitErr != nil {
			s.logger.Error("credit ref not durably recorded", zap.String("transfer_ref", ref), zap.Error(commitErr))
		}
		s.logger.Error("credit committed but transaction was not recorded; manual reconciliation required",
			zap.String("transfer_ref", ref),
			zap.String("dest_account", req.DestAccount),
			zap.String("amount", req.Amount.StringFixed(2)),
			zap.Error(err),
		)
		return nil, ErrInconsistency
	}
	if err := s.credits.Commit(ref, id); err != nil {
		// The in-memory claim still protects this process; only a restart
		// could replay the ref.
		s.logger.Error("credit ref not durably recorded", zap.String("transfer_ref", ref), zap.Error(err))
	}

	s.logger.Info("destination leg credited",
		zap.Int64("transaction_id", id),
		zap.String("transfer_ref", ref),
		zap.String("dest_account", req.DestAccount),
		zap.String("amount", req.Amount.StringFixed(2)),
	)
	return &domain.CreditResult{TransactionID: id, NewBalance: newBalance}, nil
}

// BalanceOf looks up a single account balance. Not-found is a normal,
// reportable outcome, not a fault.
func (s *Service) BalanceOf(ctx context.Context, accountID string) (decimal.Decimal, error) {
	return s.ledger.GetBalance(accountID)
}

// CashPosition returns the sum of every balance this partition holds.
func (s *Service) CashPosition(ctx context.Context) (decimal.Decimal, error) {
	return s.ledger.SumBalances()
}

// Transactions lists the audit trail of transfer attempts.
func (s *Service) Transactions(ctx context.Context) ([]domain.Transaction, error) {
	return s.txlog.List()
}
