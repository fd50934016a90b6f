/**
 * @description
 * LedgerStore is the durable mapping from account id to balance for the
 * partition this worker owns. The backing format is a line-oriented text file,
 * one pipe-delimited record per line (see domain.Account for the field order).
 *
 * Every operation runs under one store-wide mutex, held for the whole
 * read-validate-write sequence. Narrowing the lock to individual file accesses
 * would let two concurrent transfers read the same pre-debit balance and
 * double-debit the account, so Debit and Credit exist as single critical
 * sections instead of a lookup call followed by a separate update call.
 *
 * Updates rewrite the full file through a temp file followed by os.Rename, so
 * a crash mid-rewrite leaves the previous contents intact. Records other than
 * the one being updated are carried over byte-identical, including lines that
 * do not parse as records.
 */

package store

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/shardbank/ledger-worker/internal/domain"
)

const (
	ledgerSep       = "|"
	balanceFieldIdx = 2
)

// LedgerStore owns the partition's account file. All access is serialized by
// a single mutex; there is no per-record locking and no cross-process locking.
type LedgerStore struct {
	mu     sync.Mutex
	path   string
	logger *zap.Logger
}

// NewLedgerStore returns a store over the given file path. The file does not
// need to exist yet; lookups against a missing file report not-found.
func NewLedgerStore(path string, logger *zap.Logger) *LedgerStore {
	return &LedgerStore{path: path, logger: logger}
}

// GetBalance returns the stored balance for accountID. An absent record and an
// unreadable file both report ErrAccountNotFound: from the router's point of
// view this worker simply does not serve the account.
func (s *LedgerStore) GetBalance(accountID string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines, err := s.readLines()
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("ledger read failed", zap.String("path", s.path), zap.Error(err))
		}
		return decimal.Zero, ErrAccountNotFound
	}
	_, balance, err := findRecord(lines, accountID)
	return balance, err
}

// SetBalance rewrites the ledger with the matched record's balance replaced by
// newBalance rendered with two fraction digits. All other lines are preserved
// byte-identical. Returns ErrAccountNotFound when no record matches.
func (s *LedgerStore) SetBalance(accountID string, newBalance decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines, err := s.readLines()
	if err != nil {
		if os.IsNotExist(err) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("reading ledger: %w", err)
	}
	idx, _, err := findRecord(lines, accountID)
	if err != nil {
		return err
	}
	lines[idx] = replaceBalance(lines[idx], newBalance)
	return s.writeLines(lines)
}

// Debit validates funds and reduces the balance of accountID by amount in one
// critical section. On ErrInsufficientFunds the returned decimal is the
// current balance and the file is untouched; on any write failure nothing has
// been committed because the rewrite goes through a temp file.
func (s *LedgerStore) Debit(accountID string, amount decimal.Decimal) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines, err := s.readLines()
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("ledger read failed", zap.String("path", s.path), zap.Error(err))
		}
		return decimal.Zero, ErrAccountNotFound
	}
	idx, balance, err := findRecord(lines, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	if balance.LessThan(amount) {
		return balance, ErrInsufficientFunds
	}
	newBalance := balance.Sub(amount)
	lines[idx] = replaceBalance(lines[idx], newBalance)
	if err := s.writeLines(lines); err != nil {
		return decimal.Zero, fmt.Errorf("rewriting ledger: %w", err)
	}
	return newBalance, nil
}

// Credit increases the balance of accountID by amount in one critical section.
// Used by the destination-leg completion callback.
func (s *LedgerStore) Credit(accountID string, amount decimal.Decimal) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines, err := s.readLines()
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("ledger read failed", zap.String("path", s.path), zap.Error(err))
		}
		return decimal.Zero, ErrAccountNotFound
	}
	idx, balance, err := findRecord(lines, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	newBalance := balance.Add(amount)
	lines[idx] = replaceBalance(lines[idx], newBalance)
	if err := s.writeLines(lines); err != nil {
		return decimal.Zero, fmt.Errorf("rewriting ledger: %w", err)
	}
	return newBalance, nil
}

// SumBalances totals every parseable balance in the ledger: the partition's
// cash position. Malformed lines are skipped with a warning rather than
// failing the whole aggregate; a file that cannot be read at all is an error.
func (s *LedgerStore) SumBalances() (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lines, err := s.readLines()
	if err != nil {
		return decimal.Zero, fmt.Errorf("reading ledger: %w", err)
	}
	total := decimal.Zero
	for _, line := range lines {
		fields := strings.Split(line, ledgerSep)
		if len(fields) < balanceFieldIdx+1 {
			s.logger.Warn("skipping malformed ledger line", zap.String("line", line))
			continue
		}
		balance, err := decimal.NewFromString(strings.TrimSpace(fields[balanceFieldIdx]))
		if err != nil {
			s.logger.Warn("skipping ledger line with unparseable balance", zap.String("line", line))
			continue
		}
		total = total.Add(balance)
	}
	return total, nil
}

// Seed writes the given records if the ledger file does not exist yet. Used by
// bootstrap to stand up a demo partition; an existing file is never touched.
func (s *LedgerStore) Seed(accounts []domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("checking ledger: %w", err)
	}
	lines := make([]string, 0, len(accounts))
	for _, a := range accounts {
		lines = append(lines, strings.Join([]string{
			a.AccountID, a.OwnerID, a.Balance.StringFixed(2), a.AccountType,
		}, ledgerSep))
	}
	return s.writeLines(lines)
}

// findRecord locates the record whose first field equals accountID and parses
// its balance. Lines that do not split into enough fields are ignored here;
// they are preserved by rewrites and reported by SumBalances.
func findRecord(lines []string, accountID string) (int, decimal.Decimal, error) {
	for i, line := range lines {
		fields := strings.Split(line, ledgerSep)
		if len(fields) < balanceFieldIdx+1 || fields[0] != accountID {
			continue
		}
		balance, err := decimal.NewFromString(strings.TrimSpace(fields[balanceFieldIdx]))
		if err != nil {
			return i, decimal.Zero, fmt.Errorf("account %s: unparseable balance %q", accountID, fields[balanceFieldIdx])
		}
		return i, balance, nil
	}
	return 0, decimal.Zero, ErrAccountNotFound
}

func replaceBalance(line string, newBalance decimal.Decimal) string {
	fields := strings.Split(line, ledgerSep)
	fields[balanceFieldIdx] = newBalance.StringFixed(2)
	return strings.Join(fields, ledgerSep)
}

func (s *LedgerStore) readLines() ([]string, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}

// writeLines replaces the ledger atomically: the new contents go to a temp
// file that is renamed over the original, so readers never observe a
// partially written file and a crash cannot lose the previous contents.
func (s *LedgerStore) writeLines(lines []string) error {
	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, line := range lines {
		if _, err := w.WriteString(line + "\n"); err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, s.path)
}
