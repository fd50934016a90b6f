/**
 * @description
 * HTTP handlers for the worker's API. Handlers parse the request, call the
 * application service, and translate sentinel errors into status codes:
 * validation failures are 400, wrong-partition lookups are 404, storage and
 * inconsistency failures are 500. They act as the bridge between the transport
 * and the transfer engine; no business rules live here.
 */

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/shardbank/ledger-worker/internal/app"
	"github.com/shardbank/ledger-worker/internal/domain"
	"github.com/shardbank/ledger-worker/internal/store"
)

// Handlers holds the application service the endpoints delegate to.
type Handlers struct {
	service  *app.Service
	workerID string
	logger   *zap.Logger
}

// NewHandlers creates the handler set for one worker.
func NewHandlers(service *app.Service, workerID string, logger *zap.Logger) *Handlers {
	return &Handlers{service: service, workerID: workerID, logger: logger}
}

// transactionResponse mirrors domain.Transaction with the amount rendered as
// a two-fraction-digit JSON number.
type transactionResponse struct {
	TransactionID int64       `json:"transaction_id"`
	SourceAccount string      `json:"source_account"`
	DestAccount   string      `json:"dest_account"`
	Amount        json.Number `json:"amount"`
	Timestamp     string      `json:"timestamp"`
	Status        string      `json:"status"`
}

// HealthHandler reports liveness plus the implementation tag the router uses
// to tell worker builds apart.
func (h *Handlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":         "UP",
		"implementation": "go",
		"worker_id":      h.workerID,
	})
}

// BalanceHandler serves GET /balance?account_id=ID.
func (h *Handlers) BalanceHandler(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		h.writeError(w, http.StatusBadRequest, "account_id is required")
		return
	}

	balance, err := h.service.BalanceOf(r.Context(), accountID)
	if err != nil {
		if !errors.Is(err, store.ErrAccountNotFound) {
			h.logger.Warn("balance lookup failed", zap.String("account_id", accountID), zap.Error(err))
		}
		h.writeError(w, http.StatusNotFound, "account not found on this partition")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"account_id": accountID,
		"balance":    jsonAmount(balance),
	})
}

// CashPositionHandler serves GET /cash_position: the sum of every balance on
// this partition.
func (h *Handlers) CashPositionHandler(w http.ResponseWriter, r *http.Request) {
	total, err := h.service.CashPosition(r.Context())
	if err != nil {
		h.logger.Error("cash position failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "unable to read ledger for cash position")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"partition_total": jsonAmount(total),
	})
}

// TransactionsHandler serves GET /transactions: the partition's audit trail.
func (h *Handlers) TransactionsHandler(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.Transactions(r.Context())
	if err != nil {
		h.logger.Error("transaction listing failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "unable to read transaction log")
		return
	}
	items := make([]transactionResponse, 0, len(records))
	for _, rec := range records {
		items = append(items, transactionResponse{
			TransactionID: rec.ID,
			SourceAccount: rec.SourceAccount,
			DestAccount:   rec.DestAccount,
			Amount:        jsonAmount(rec.Amount),
			Timestamp:     rec.Timestamp,
			Status:        rec.Status,
		})
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"transactions": items})
}

// TransferHandler serves POST /transfer: the origin-side leg of a funds
// transfer.
func (h *Handlers) TransferHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.service.Transfer(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidTransfer):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, store.ErrAccountNotFound):
			h.writeJSON(w, http.StatusNotFound, map[string]any{
				"error":  "source account not found on this partition",
				"status": "RejectedAccountNotOnPartition",
			})
		case errors.Is(err, store.ErrInsufficientFunds):
			body := map[string]any{
				"error":  "insufficient funds",
				"status": domain.TxStatusRejectedInsufficient,
			}
			if res != nil {
				body["transaction_id"] = res.TransactionID
			}
			h.writeJSON(w, http.StatusBadRequest, body)
		case errors.Is(err, app.ErrInconsistency):
			h.writeError(w, http.StatusInternalServerError,
				"debit committed but transaction was not recorded; manual reconciliation required")
		default:
			h.logger.Error("transfer failed", zap.Error(err))
			h.writeError(w, http.StatusInternalServerError, "transfer failed")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"message":        "origin leg confirmed",
		"status":         res.Status,
		"transaction_id": res.TransactionID,
		"balance":        jsonAmount(res.NewBalance),
	})
}

// CreditHandler serves POST /credit: the destination-side leg, idempotent on
// the router-assigned transfer reference.
func (h *Handlers) CreditHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.CreditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.service.ApplyCredit(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, app.ErrInvalidCredit):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, store.ErrAccountNotFound):
			h.writeJSON(w, http.StatusNotFound, map[string]any{
				"error":  "destination account not found on this partition",
				"status": "RejectedAccountNotOnPartition",
			})
		case errors.Is(err, app.ErrInconsistency):
			h.writeError(w, http.StatusInternalServerError,
				"credit committed but transaction was not recorded; manual reconciliation required")
		default:
			h.logger.Error("credit failed", zap.Error(err))
			h.writeError(w, http.StatusInternalServerError, "credit failed")
		}
		return
	}

	body := map[string]any{
		"status":         domain.TxStatusCredited,
		"duplicate":      res.Duplicate,
		"transaction_id": res.TransactionID,
	}
	if !res.Duplicate {
		body["balance"] = jsonAmount(res.NewBalance)
	}
	h.writeJSON(w, http.StatusOK, body)
}

// jsonAmount renders a monetary value as a JSON number with exactly two
// fraction digits.
func jsonAmount(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("writing response failed", zap.Error(err))
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}
