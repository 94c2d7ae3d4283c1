package rest

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/leadworks/auction-broker/internal/domain/auction"
	domainerrors "github.com/leadworks/auction-broker/internal/domain/errors"
	"github.com/leadworks/auction-broker/internal/domain/lead"
	"github.com/leadworks/auction-broker/internal/domain/mapping"
	"github.com/leadworks/auction-broker/internal/infrastructure/database"
	"github.com/leadworks/auction-broker/internal/infrastructure/repository"
	"github.com/leadworks/auction-broker/internal/metrics"
	"github.com/leadworks/auction-broker/internal/service/workqueue"
)

// LeadHandler exposes the submission collaborator's entry point into the
// core (submitLead) plus a read-only status projection for ops visibility.
type LeadHandler struct {
	pool          *database.ConnectionPool
	leads         *repository.LeadRepository
	statusHistory *repository.StatusHistoryRepository
	complianceLog *repository.ComplianceAuditRepository
	queue         *workqueue.Queue
	errHandler    ErrorHandler
	logger        *zap.Logger
	metrics       *metrics.Registry
}

func NewLeadHandler(pool *database.ConnectionPool, queue *workqueue.Queue, errHandler ErrorHandler, logger *zap.Logger, reg *metrics.Registry) *LeadHandler {
	return &LeadHandler{
		pool:          pool,
		leads:         repository.NewLeadRepository(pool.Pool()),
		statusHistory: repository.NewStatusHistoryRepository(pool.Pool()),
		complianceLog: repository.NewComplianceAuditRepository(pool.Pool()),
		queue:         queue,
		errHandler:    errHandler,
		logger:        logger,
		metrics:       reg,
	}
}

type submitLeadComplianceRequest struct {
	TrustedFormCertURL string      `json:"trustedFormCertUrl"`
	TrustedFormCertID  string      `json:"trustedFormCertId"`
	TrustedFormScore   int         `json:"trustedFormScore"`
	JornayaLeadID      string      `json:"jornayaLeadId"`
	TCPAConsent        bool        `json:"tcpaConsent"`
	Attribution        interface{} `json:"attribution"`
}

type submitLeadRequest struct {
	ServiceTypeID string                       `json:"serviceTypeId"`
	FormData      interface{}                  `json:"formData"`
	ZipCode       string                       `json:"zipCode"`
	OwnsHome      bool                         `json:"ownsHome"`
	Timeframe     string                       `json:"timeframe"`
	Compliance    *submitLeadComplianceRequest `json:"complianceData"`
}

type submitLeadResponse struct {
	LeadID string `json:"leadId"`
	Status string `json:"status"`
	JobID  string `json:"jobId"`
}

// SubmitLead handles POST /leads.
func (h *LeadHandler) SubmitLead(w http.ResponseWriter, r *http.Request) {
	var req submitLeadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.errHandler, newValidationError("malformed request body", nil))
		return
	}

	fields := map[string][]string{}
	if req.ServiceTypeID == "" {
		fields["serviceTypeId"] = []string{"required"}
	}
	if req.ZipCode == "" {
		fields["zipCode"] = []string{"required"}
	}
	if req.Timeframe == "" {
		fields["timeframe"] = []string{"required"}
	}
	serviceTypeID, err := uuid.Parse(req.ServiceTypeID)
	if err != nil && req.ServiceTypeID != "" {
		fields["serviceTypeId"] = []string{"must be a UUID"}
	}
	if len(fields) > 0 {
		writeError(w, h.errHandler, newValidationError("invalid lead submission", fields))
		return
	}

	compliance := lead.ComplianceData{Attribution: mapping.Null}
	if req.Compliance != nil {
		compliance = lead.ComplianceData{
			TrustedFormCertURL: req.Compliance.TrustedFormCertURL,
			TrustedFormCertID:  req.Compliance.TrustedFormCertID,
			TrustedFormScore:   req.Compliance.TrustedFormScore,
			JornayaLeadID:      req.Compliance.JornayaLeadID,
			TCPAConsent:        req.Compliance.TCPAConsent,
			Attribution:        mapping.FromAny(req.Compliance.Attribution),
		}
	}

	l := lead.New(serviceTypeID, req.ZipCode, req.OwnsHome, lead.Timeframe(req.Timeframe), mapping.FromAny(req.FormData), compliance)

	complianceBytes, _ := json.Marshal(req.Compliance)

	err = h.pool.WithTransaction(r.Context(), func(tx pgx.Tx) error {
		leads := repository.NewLeadRepository(tx)
		history := repository.NewStatusHistoryRepository(tx)
		complianceLog := repository.NewComplianceAuditRepository(tx)

		if err := leads.Create(r.Context(), l); err != nil {
			return err
		}
		if err := history.Insert(r.Context(), lead.NewStatusHistory(l.ID, "", lead.StatusPending, "submitted")); err != nil {
			return err
		}
		return complianceLog.Insert(r.Context(), auction.NewComplianceAuditLog(l.ID, "lead_submitted", complianceBytes))
	})
	if err != nil {
		writeError(w, h.errHandler, domainerrors.NewInternalError("failed to persist lead").WithCause(err))
		return
	}

	priority := workqueue.PriorityNormal
	if l.QueuePriority() == "high" {
		priority = workqueue.PriorityHigh
	}
	if err := h.queue.Enqueue(r.Context(), l.ID, priority); err != nil {
		h.logger.Error("failed to enqueue lead for auction", zap.String("lead_id", l.ID.String()), zap.Error(err))
		writeError(w, h.errHandler, domainerrors.NewInternalError("failed to enqueue lead").WithCause(err))
		return
	}
	if h.metrics != nil {
		h.metrics.RecordLeadSubmitted(string(priority), l.LeadQualityScore)
	}

	writeJSON(w, http.StatusAccepted, submitLeadResponse{
		LeadID: l.ID.String(),
		Status: string(l.Status),
		JobID:  l.ID.String(),
	})
}

type leadStatusResponse struct {
	LeadID           string  `json:"leadId"`
	Status           string  `json:"status"`
	LeadQualityScore int     `json:"leadQualityScore"`
	WinningBuyerID   *string `json:"winningBuyerId,omitempty"`
	WinningBid       *string `json:"winningBid,omitempty"`
}

// GetLead handles GET /leads/{id}.
func (h *LeadHandler) GetLead(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, h.errHandler, newValidationError("invalid lead id", nil))
		return
	}

	l, err := h.leads.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, h.errHandler, err)
		return
	}

	resp := leadStatusResponse{
		LeadID:           l.ID.String(),
		Status:           string(l.Status),
		LeadQualityScore: l.LeadQualityScore,
	}
	if l.WinningBuyerID != nil {
		id := l.WinningBuyerID.String()
		resp.WinningBuyerID = &id
	}
	if l.WinningBid != nil {
		bid := l.WinningBid.FormatUSD()
		resp.WinningBid = &bid
	}
	writeJSON(w, http.StatusOK, resp)
}
