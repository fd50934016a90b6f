/**
 * @description
 * CreditRegistry remembers which router-assigned transfer references have
 * already been credited on this partition, making the destination-leg
 * completion callback idempotent. The router may retry a credit any number of
 * times; only the first application moves money.
 *
 * Claim/commit/release protocol: a request claims the reference before
 * touching the ledger, commits it (durably, one "ref|transaction_id" line)
 * after the credit is logged, and releases it if the credit failed so a retry
 * can succeed. A claim held by an in-flight request is reported as a duplicate
 * to concurrent callers rather than blocking them.
 */

package store

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// CreditRegistry is a durable set of applied transfer references.
type CreditRegistry struct {
	mu      sync.Mutex
	path    string
	applied map[string]int64
	claimed map[string]struct{}
	logger  *zap.Logger
}

// OpenCreditRegistry loads previously committed references from the refs file.
// A missing file is an empty registry.
func OpenCreditRegistry(path string, logger *zap.Logger) (*CreditRegistry, error) {
	r := &CreditRegistry{
		path:    path,
		applied: make(map[string]int64),
		claimed: make(map[string]struct{}),
		logger:  logger,
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("reading credit registry: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		fields := strings.SplitN(line, ledgerSep, 2)
		if len(fields) != 2 {
			logger.Warn("skipping malformed credit ref", zap.String("line", line))
			continue
		}
		txID, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			logger.Warn("skipping malformed credit ref", zap.String("line", line))
			continue
		}
		r.applied[fields[0]] = txID
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading credit registry: %w", err)
	}
	return r, nil
}

// Claim reserves ref for the calling request. When the ref was already applied
// (or is being applied right now) the original transaction id and true are
// returned and the caller must not credit again.
func (r *CreditRegistry) Claim(ref string) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if txID, ok := r.applied[ref]; ok {
		return txID, true
	}
	if _, ok := r.claimed[ref]; ok {
		return 0, true
	}
	r.claimed[ref] = struct{}{}
	return 0, false
}

// Commit durably records a claimed ref as applied. After Commit the ref is a
// duplicate forever, surviving restarts. When the append fails the ref stays
// claimed, so replays within this process are still rejected; the claim is
// only released once the line is on disk.
func (r *CreditRegistry) Commit(ref string, txID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening credit registry: %w", err)
	}
	line := ref + ledgerSep + strconv.FormatInt(txID, 10)
	if _, err := f.WriteString(line + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("appending credit ref: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing credit registry: %w", err)
	}
	delete(r.claimed, ref)
	r.applied[ref] = txID
	return nil
}

// Release abandons a claim after a failed credit so the router's retry of the
// same reference can go through.
func (r *CreditRegistry) Release(ref string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.claimed, ref)
}
