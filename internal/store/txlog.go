/**
 * @description
 * TransactionLog is the append-only audit trail of transfer attempts. One
 * pipe-delimited record per line (see domain.Transaction for the field order),
 * created on first append.
 *
 * Identifier assignment: the log keeps an in-memory monotonic counter seeded
 * once from the existing record count at open. Incrementing it and appending
 * the line happen under the log mutex, which keeps ids unique, strictly
 * increasing and gap-free without re-counting the file on every append. The
 * log file itself is the durable record; the counter is rebuilt from it on
 * restart.
 */

package store

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/shardbank/ledger-worker/internal/domain"
)

const txFieldCount = 6

// TransactionLog appends transfer outcomes to a flat file under a single
// mutex. Records are never mutated or removed.
type TransactionLog struct {
	mu     sync.Mutex
	path   string
	nextID int64
	logger *zap.Logger
}

// OpenTransactionLog counts the existing records once to resume the id
// sequence, then returns a log ready for appends. A missing file is a fresh
// log starting at id 1.
func OpenTransactionLog(path string, logger *zap.Logger) (*TransactionLog, error) {
	l := &TransactionLog{path: path, logger: logger}
	count, err := l.countRecords()
	if err != nil {
		return nil, fmt.Errorf("counting transaction records: %w", err)
	}
	l.nextID = count + 1
	return l, nil
}

// Append assigns the next transaction id and writes one record. The id is
// only consumed when the write succeeds, so a storage failure leaves the
// sequence gap-free and the attempt unrecorded.
func (l *TransactionLog) Append(rec domain.Transaction) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextID
	line := strings.Join([]string{
		strconv.FormatInt(id, 10),
		rec.SourceAccount,
		rec.DestAccount,
		rec.Amount.StringFixed(2),
		rec.Timestamp,
		rec.Status,
	}, ledgerSep)

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("opening transaction log: %w", err)
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		f.Close()
		return 0, fmt.Errorf("appending transaction record: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("closing transaction log: %w", err)
	}
	l.nextID++
	return id, nil
}

// List parses every record in the log. Malformed lines are skipped with a
// warning. A missing file is an empty log, not an error.
func (l *TransactionLog) List() ([]domain.Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading transaction log: %w", err)
	}
	defer f.Close()

	var records []domain.Transaction
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		rec, ok := l.parseRecord(line)
		if !ok {
			l.logger.Warn("skipping malformed transaction record", zap.String("line", line))
			continue
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading transaction log: %w", err)
	}
	return records, nil
}

func (l *TransactionLog) parseRecord(line string) (domain.Transaction, bool) {
	fields := strings.Split(line, ledgerSep)
	if len(fields) != txFieldCount {
		return domain.Transaction{}, false
	}
	id, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return domain.Transaction{}, false
	}
	amount, err := decimal.NewFromString(fields[3])
	if err != nil {
		return domain.Transaction{}, false
	}
	return domain.Transaction{
		ID:            id,
		SourceAccount: fields[1],
		DestAccount:   fields[2],
		Amount:        amount,
		Timestamp:     fields[4],
		Status:        fields[5],
	}, true
}

func (l *TransactionLog) countRecords() (int64, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	defer f.Close()

	var count int64
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		count++
	}
	return count, sc.Err()
}
