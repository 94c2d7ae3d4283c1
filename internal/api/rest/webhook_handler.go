package rest

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	domainauction "github.com/leadworks/auction-broker/internal/domain/auction"
	domainerrors "github.com/leadworks/auction-broker/internal/domain/errors"
	"github.com/leadworks/auction-broker/internal/domain/lead"
	"github.com/leadworks/auction-broker/internal/domain/money"
	"github.com/leadworks/auction-broker/internal/infrastructure/database"
	"github.com/leadworks/auction-broker/internal/infrastructure/repository"
	"github.com/leadworks/auction-broker/internal/metrics"
)

// WebhookHandler reconciles async buyer callbacks with auction state
// (ping_response, post_response, status_update) per the HMAC-authenticated
// envelope contract.
type WebhookHandler struct {
	pool         *database.ConnectionPool
	buyers       *repository.BuyerRepository
	leads        *repository.LeadRepository
	transactions *repository.TransactionRepository
	history      *repository.StatusHistoryRepository
	audits       *repository.WebhookAuditRepository
	errHandler   ErrorHandler
	logger       *zap.Logger
	metrics      *metrics.Registry
}

func NewWebhookHandler(pool *database.ConnectionPool, errHandler ErrorHandler, logger *zap.Logger, reg *metrics.Registry) *WebhookHandler {
	db := pool.Pool()
	return &WebhookHandler{
		pool:         pool,
		buyers:       repository.NewBuyerRepository(db),
		leads:        repository.NewLeadRepository(db),
		transactions: repository.NewTransactionRepository(db),
		history:      repository.NewStatusHistoryRepository(db),
		audits:       repository.NewWebhookAuditRepository(db),
		errHandler:   errHandler,
		logger:       logger,
		metrics:      reg,
	}
}

type webhookEnvelope struct {
	LeadID        string   `json:"leadId"`
	Action        string   `json:"action"`
	Status        string   `json:"status"`
	Bid           *float64 `json:"bid"`
	Reason        string   `json:"reason"`
	TransactionID *string  `json:"transactionId"`
}

const (
	actionPingResponse  = "ping_response"
	actionPostResponse  = "post_response"
	actionStatusUpdate  = "status_update"
)

// Receive handles POST /webhooks/buyers/{buyerName}.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	buyerName := mux.Vars(r)["buyerName"]

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, r, newValidationError("unreadable request body", nil))
		return
	}

	b, err := h.buyers.GetByName(r.Context(), buyerName)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !b.Active {
		h.writeError(w, r, domainerrors.NewForbiddenError("buyer is inactive"))
		return
	}

	if !verifySignature(body, b.WebhookSecret, r.Header.Get("X-Signature")) {
		h.writeError(w, r, domainerrors.NewUnauthorizedError("webhook signature verification failed"))
		return
	}

	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		h.writeError(w, r, newValidationError("malformed webhook envelope", nil))
		return
	}
	fields := map[string][]string{}
	if env.LeadID == "" {
		fields["leadId"] = []string{"required"}
	}
	if env.Action == "" {
		fields["action"] = []string{"required"}
	}
	leadID, parseErr := uuid.Parse(env.LeadID)
	if parseErr != nil && env.LeadID != "" {
		fields["leadId"] = []string{"must be a UUID"}
	}
	if len(fields) > 0 {
		h.writeError(w, r, newValidationError("invalid webhook envelope", fields))
		return
	}

	l, err := h.leads.GetByID(r.Context(), leadID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if env.TransactionID != nil {
		existing, err := h.audits.FindByTransactionID(r.Context(), b.ID, *env.TransactionID)
		if err != nil && !isNotFound(err) {
			h.writeError(w, r, err)
			return
		}
		if existing != nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate_ignored"})
			return
		}
	}

	envelopeHash := hashEnvelope(body)
	httpStatus := http.StatusOK

	switch env.Action {
	case actionPingResponse:
		h.handlePingResponse(r, l, b.ID, env)
	case actionPostResponse:
		if err := h.handlePostResponse(r, l, b.ID, env); err != nil {
			h.writeError(w, r, err)
			return
		}
	case actionStatusUpdate:
		// recorded via WebhookAudit below; no lead mutation.
	default:
		h.writeError(w, r, newValidationError("unknown action", map[string][]string{"action": {"unrecognized"}}))
		return
	}

	audit := domainauction.NewWebhookAudit(b.ID, env.TransactionID, envelopeHash, env.Action, httpStatus)
	if err := h.audits.Insert(r.Context(), audit); err != nil {
		h.logger.Error("failed to persist webhook audit", zap.Error(SanitizeErrorTransformer(err)))
	}
	if h.metrics != nil {
		h.metrics.RecordWebhookReceived(env.Action, "accepted")
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

// writeError runs err through the sanitize/enrich interceptor before
// rendering it -- the buyer and webhook repositories can surface errors
// that embed the request that triggered them, and a webhook secret or
// auth token has no business reaching a client response or a log line.
func (h *WebhookHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	interceptor := NewErrorInterceptor(h.errHandler)
	interceptor.AddTransformer(SanitizeErrorTransformer)
	interceptor.AddTransformer(EnrichErrorTransformer(r.Context()))

	status, code, message, details := interceptor.InterceptError(err)
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}

func (h *WebhookHandler) handlePingResponse(r *http.Request, l *lead.Lead, buyerID uuid.UUID, env webhookEnvelope) {
	if l.Status != lead.StatusProcessing {
		return
	}
	tx := domainauction.NewTransaction(l.ID, buyerID, domainauction.ActionPing, domainauction.TxSuccess)
	if env.Bid != nil {
		if bid, err := money.FromAny(*env.Bid); err == nil {
			tx.BidAmount = &bid
		}
	}
	body, _ := json.Marshal(env)
	tx.Response = body
	if err := h.transactions.Insert(r.Context(), tx); err != nil {
		h.logger.Error("failed to persist late ping transaction", zap.Error(SanitizeErrorTransformer(err)))
	}
}

func (h *WebhookHandler) handlePostResponse(r *http.Request, l *lead.Lead, buyerID uuid.UUID, env webhookEnvelope) error {
	switch env.Status {
	case "delivered":
		// Confirms SOLD; the POST SUCCESS Transaction row was already
		// written synchronously by the Auction Engine. Revenue
		// accumulation reads from that row, so no mutation here.
		return nil
	case "failed", "duplicate", "invalid":
		if l.Status != lead.StatusSold {
			return nil
		}
		prevStatus := l.Status
		l.Reject()
		return h.pool.WithTransaction(r.Context(), func(tx pgx.Tx) error {
			leads := repository.NewLeadRepository(tx)
			history := repository.NewStatusHistoryRepository(tx)
			if err := leads.UpdateStatus(r.Context(), l); err != nil {
				return err
			}
			return history.Insert(r.Context(), lead.NewStatusHistory(l.ID, prevStatus, l.Status, env.Reason))
		})
	default:
		return nil
	}
}

func verifySignature(body []byte, secret, provided string) bool {
	if secret == "" || provided == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) == 1
}

func hashEnvelope(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func isNotFound(err error) bool {
	var repoErr *repository.Error
	return errors.As(err, &repoErr) && repoErr.Category == repository.CategoryNotFound
}
