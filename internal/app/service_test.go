package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/shardbank/ledger-worker/internal/domain"
	"github.com/shardbank/ledger-worker/internal/store"
)

type testEnv struct {
	service    *Service
	ledgerPath string
	logPath    string
	txlog      *store.TransactionLog
}

func newTestService(t *testing.T, ledgerContents string) testEnv {
	t.Helper()
	return newTestServiceAt(t, t.TempDir(), ledgerContents, "credit_refs.txt")
}

// newTestServiceAt allows a test to place the credit-refs file somewhere the
// registry cannot write to.
func newTestServiceAt(t *testing.T, dir, ledgerContents, refsName string) testEnv {
	t.Helper()
	ledgerPath := filepath.Join(dir, "accounts.txt")
	if err := os.WriteFile(ledgerPath, []byte(ledgerContents), 0o644); err != nil {
		t.Fatalf("writing ledger fixture: %v", err)
	}

	logger := zap.NewNop()
	ledger := store.NewLedgerStore(ledgerPath, logger)
	logPath := filepath.Join(dir, "transactions.txt")
	txlog, err := store.OpenTransactionLog(logPath, logger)
	if err != nil {
		t.Fatalf("opening transaction log: %v", err)
	}
	credits, err := store.OpenCreditRegistry(filepath.Join(dir, refsName), logger)
	if err != nil {
		t.Fatalf("opening credit registry: %v", err)
	}
	return testEnv{
		service:    NewService(ledger, txlog, credits, logger),
		ledgerPath: ledgerPath,
		logPath:    logPath,
		txlog:      txlog,
	}
}

func amount(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal fixture %q: %v", s, err)
	}
	return d
}

func ledgerContents(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading ledger: %v", err)
	}
	return string(data)
}

func logRecords(t *testing.T, env testEnv) []domain.Transaction {
	t.Helper()
	recs, err := env.txlog.List()
	if err != nil {
		t.Fatalf("listing transactions: %v", err)
	}
	return recs
}

func TestTransferConfirmed(t *testing.T) {
	env := newTestService(t, "1|1|1500.00|Ahorros\n")

	res, err := env.service.Transfer(context.Background(), domain.TransferRequest{
		SourceAccount: "1",
		DestAccount:   "2",
		Amount:        amount(t, "500"),
		Timestamp:     "2024-05-01 10:00:00",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != domain.TxStatusConfirmed || res.TransactionID != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if !res.NewBalance.Equal(amount(t, "1000.00")) {
		t.Fatalf("expected new balance 1000.00, got %s", res.NewBalance)
	}
	if got := ledgerContents(t, env.ledgerPath); got != "1|1|1000.00|Ahorros\n" {
		t.Fatalf("unexpected ledger: %q", got)
	}

	recs := logRecords(t, env)
	if len(recs) != 1 {
		t.Fatalf("expected exactly one transaction record, got %d", len(recs))
	}
	if recs[0].Status != domain.TxStatusConfirmed || recs[0].SourceAccount != "1" || recs[0].DestAccount != "2" {
		t.Fatalf("unexpected record: %+v", recs[0])
	}
}

func TestTransferInsufficientFunds(t *testing.T) {
	env := newTestService(t, "1|1|100.00|Ahorros\n")

	res, err := env.service.Transfer(context.Background(), domain.TransferRequest{
		SourceAccount: "1",
		DestAccount:   "2",
		Amount:        amount(t, "500"),
	})
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if res == nil || res.Status != domain.TxStatusRejectedInsufficient || res.TransactionID != 1 {
		t.Fatalf("expected rejection result with logged id, got %+v", res)
	}
	if got := ledgerContents(t, env.ledgerPath); got != "1|1|100.00|Ahorros\n" {
		t.Fatalf("balance changed on rejected transfer: %q", got)
	}

	recs := logRecords(t, env)
	if len(recs) != 1 || recs[0].Status != domain.TxStatusRejectedInsufficient {
		t.Fatalf("expected one rejection record, got %+v", recs)
	}
}

func TestTransferInvalidParams(t *testing.T) {
	env := newTestService(t, "1|1|1500.00|Ahorros\n")

	tests := []struct {
		name string
		req  domain.TransferRequest
	}{
		{"missing source", domain.TransferRequest{DestAccount: "2", Amount: amount(t, "10")}},
		{"missing destination", domain.TransferRequest{SourceAccount: "1", Amount: amount(t, "10")}},
		{"zero amount", domain.TransferRequest{SourceAccount: "1", DestAccount: "2"}},
		{"negative amount", domain.TransferRequest{SourceAccount: "1", DestAccount: "2", Amount: amount(t, "-5")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.service.Transfer(context.Background(), tt.req); !errors.Is(err, ErrInvalidTransfer) {
				t.Fatalf("expected ErrInvalidTransfer, got %v", err)
			}
		})
	}

	// Rejected parameters never reach the log.
	if recs := logRecords(t, env); len(recs) != 0 {
		t.Fatalf("expected no transaction records, got %+v", recs)
	}
}

func TestTransferUnknownSourceWritesNoRecord(t *testing.T) {
	env := newTestService(t, "1|1|1500.00|Ahorros\n")

	_, err := env.service.Transfer(context.Background(), domain.TransferRequest{
		SourceAccount: "999",
		DestAccount:   "2",
		Amount:        amount(t, "10"),
	})
	if !errors.Is(err, store.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
	if recs := logRecords(t, env); len(recs) != 0 {
		t.Fatalf("wrong-partition lookup must not be logged, got %+v", recs)
	}
}

func TestConcurrentTransfersNeverDoubleDebit(t *testing.T) {
	env := newTestService(t, "1|1|1000.00|Ahorros\n")

	const attempts = 10
	debit := amount(t, "300")

	var wg sync.WaitGroup
	outcomes := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.service.Transfer(context.Background(), domain.TransferRequest{
				SourceAccount: "1",
				DestAccount:   "2",
				Amount:        debit,
			})
			outcomes <- err
		}()
	}
	wg.Wait()
	close(outcomes)

	var confirmed, rejected int
	for err := range outcomes {
		switch {
		case err == nil:
			confirmed++
		case errors.Is(err, store.ErrInsufficientFunds):
			rejected++
		default:
			t.Fatalf("unexpected outcome: %v", err)
		}
	}

	// 1000.00 allows exactly three 300.00 debits under serialized execution.
	if confirmed != 3 {
		t.Fatalf("expected 3 confirmed transfers, got %d (rejected %d)", confirmed, rejected)
	}
	final, err := env.service.BalanceOf(context.Background(), "1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := amount(t, "1000").Sub(debit.Mul(decimal.NewFromInt(int64(confirmed))))
	if !final.Equal(want) {
		t.Fatalf("expected final balance %s, got %s", want, final)
	}

	// Every attempt that reached the funds check produced exactly one record,
	// with gap-free ids.
	recs := logRecords(t, env)
	if len(recs) != attempts {
		t.Fatalf("expected %d records, got %d", attempts, len(recs))
	}
	seen := make(map[int64]bool, attempts)
	for _, rec := range recs {
		if rec.ID < 1 || rec.ID > attempts || seen[rec.ID] {
			t.Fatalf("transaction ids not unique in 1..%d: %+v", attempts, recs)
		}
		seen[rec.ID] = true
	}
}

func TestTransferInconsistencyAfterLogFailure(t *testing.T) {
	env := newTestService(t, "1|1|1500.00|Ahorros\n")

	// A directory at the log path makes every append fail after the debit
	// has already been written to the ledger.
	if err := os.Mkdir(env.logPath, 0o755); err != nil {
		t.Fatalf("blocking transaction log: %v", err)
	}

	_, err := env.service.Transfer(context.Background(), domain.TransferRequest{
		SourceAccount: "1",
		DestAccount:   "2",
		Amount:        amount(t, "500"),
	})
	if !errors.Is(err, ErrInconsistency) {
		t.Fatalf("expected ErrInconsistency, got %v", err)
	}
	// The debit stands; the engine never issues a compensating credit.
	if got := ledgerContents(t, env.ledgerPath); got != "1|1|1000.00|Ahorros\n" {
		t.Fatalf("unexpected ledger after failed log append: %q", got)
	}
}

func TestApplyCreditIdempotent(t *testing.T) {
	env := newTestService(t, "2|2|3200.50|Corriente\n")
	ref := uuid.NewString()

	req := domain.CreditRequest{
		TransferRef:   ref,
		SourceAccount: "1",
		DestAccount:   "2",
		Amount:        amount(t, "100"),
		Timestamp:     "2024-05-01 10:00:00",
	}

	res, err := env.service.ApplyCredit(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Duplicate || !res.NewBalance.Equal(amount(t, "3300.50")) {
		t.Fatalf("unexpected first credit result: %+v", res)
	}

	replay, err := env.service.ApplyCredit(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !replay.Duplicate || replay.TransactionID != res.TransactionID {
		t.Fatalf("expected duplicate replay of id %d, got %+v", res.TransactionID, replay)
	}

	if got := ledgerContents(t, env.ledgerPath); got != "2|2|3300.50|Corriente\n" {
		t.Fatalf("replay moved money: %q", got)
	}
	recs := logRecords(t, env)
	if len(recs) != 1 || recs[0].Status != domain.TxStatusCredited {
		t.Fatalf("expected exactly one Credited record, got %+v", recs)
	}
}

func TestApplyCreditInconsistencyAfterLogFailure(t *testing.T) {
	env := newTestService(t, "2|2|3200.50|Corriente\n")
	if err := os.Mkdir(env.logPath, 0o755); err != nil {
		t.Fatalf("blocking transaction log: %v", err)
	}

	req := domain.CreditRequest{
		TransferRef: uuid.NewString(),
		DestAccount: "2",
		Amount:      amount(t, "100"),
	}
	_, err := env.service.ApplyCredit(context.Background(), req)
	if !errors.Is(err, ErrInconsistency) {
		t.Fatalf("expected ErrInconsistency, got %v", err)
	}
	if got := ledgerContents(t, env.ledgerPath); got != "2|2|3300.50|Corriente\n" {
		t.Fatalf("unexpected ledger after failed log append: %q", got)
	}

	// The reference stays burned: a retry reports duplicate and moves no money.
	replay, err := env.service.ApplyCredit(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error on replay: %v", err)
	}
	if !replay.Duplicate {
		t.Fatalf("expected duplicate replay, got %+v", replay)
	}
	if got := ledgerContents(t, env.ledgerPath); got != "2|2|3300.50|Corriente\n" {
		t.Fatalf("replay moved money: %q", got)
	}
}

func TestApplyCreditReplayAfterRefWriteFailure(t *testing.T) {
	// The credit-refs file sits in a directory that does not exist, so every
	// attempt to persist an applied reference fails.
	env := newTestServiceAt(t, t.TempDir(), "2|2|3200.50|Corriente\n",
		filepath.Join("missing", "credit_refs.txt"))

	req := domain.CreditRequest{
		TransferRef: uuid.NewString(),
		DestAccount: "2",
		Amount:      amount(t, "100"),
	}
	res, err := env.service.ApplyCredit(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Duplicate {
		t.Fatalf("first credit reported as duplicate: %+v", res)
	}

	replay, err := env.service.ApplyCredit(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error on replay: %v", err)
	}
	if !replay.Duplicate {
		t.Fatalf("expected duplicate replay, got %+v", replay)
	}
	if got := ledgerContents(t, env.ledgerPath); got != "2|2|3300.50|Corriente\n" {
		t.Fatalf("replay moved money: %q", got)
	}
	if recs := logRecords(t, env); len(recs) != 1 {
		t.Fatalf("expected exactly one Credited record, got %+v", recs)
	}
}

func TestApplyCreditUnknownAccountReleasesClaim(t *testing.T) {
	env := newTestService(t, "2|2|3200.50|Corriente\n")
	ref := uuid.NewString()

	_, err := env.service.ApplyCredit(context.Background(), domain.CreditRequest{
		TransferRef: ref,
		DestAccount: "999",
		Amount:      amount(t, "100"),
	})
	if !errors.Is(err, store.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}

	// The failed attempt must not burn the reference.
	res, err := env.service.ApplyCredit(context.Background(), domain.CreditRequest{
		TransferRef: ref,
		DestAccount: "2",
		Amount:      amount(t, "100"),
	})
	if err != nil {
		t.Fatalf("retry after failure should succeed, got %v", err)
	}
	if res.Duplicate {
		t.Fatalf("retry after failure reported as duplicate: %+v", res)
	}
}

func TestApplyCreditInvalidParams(t *testing.T) {
	env := newTestService(t, "2|2|3200.50|Corriente\n")

	tests := []struct {
		name string
		req  domain.CreditRequest
	}{
		{"missing ref", domain.CreditRequest{DestAccount: "2", Amount: amount(t, "10")}},
		{"non-uuid ref", domain.CreditRequest{TransferRef: "42", DestAccount: "2", Amount: amount(t, "10")}},
		{"missing destination", domain.CreditRequest{TransferRef: uuid.NewString(), Amount: amount(t, "10")}},
		{"zero amount", domain.CreditRequest{TransferRef: uuid.NewString(), DestAccount: "2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := env.service.ApplyCredit(context.Background(), tt.req); !errors.Is(err, ErrInvalidCredit) {
				t.Fatalf("expected ErrInvalidCredit, got %v", err)
			}
		})
	}
}

func TestQueries(t *testing.T) {
	env := newTestService(t, "1|1|1500.00|Ahorros\n2|2|3200.50|Corriente\n")
	ctx := context.Background()

	balance, err := env.service.BalanceOf(ctx, "1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !balance.Equal(amount(t, "1500.00")) {
		t.Fatalf("expected 1500.00, got %s", balance)
	}

	// Repeated reads with no intervening transfer are identical.
	again, err := env.service.BalanceOf(ctx, "1")
	if err != nil || !again.Equal(balance) {
		t.Fatalf("balance read not idempotent: %s vs %s (err %v)", balance, again, err)
	}

	total, err := env.service.CashPosition(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !total.Equal(amount(t, "4700.50")) {
		t.Fatalf("expected 4700.50, got %s", total)
	}
}
