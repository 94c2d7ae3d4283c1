package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/leadworks/auction-broker/internal/domain/auction"
	"github.com/leadworks/auction-broker/internal/domain/lead"
	"github.com/leadworks/auction-broker/internal/domain/money"
)

// TransactionRepository is insert-only for the core; it also serves two read
// helpers: CountBuyerDailyPosts, used by the Eligibility Index, and
// GetHighestPingBid.
type TransactionRepository struct {
	db querier
}

func NewTransactionRepository(db querier) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Insert appends a Transaction row. Never mutated once written.
func (r *TransactionRepository) Insert(ctx context.Context, tx *auction.Transaction) error {
	var bidAmount interface{}
	if tx.BidAmount != nil {
		bidAmount = tx.BidAmount.String()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO transactions (
			id, lead_id, buyer_id, action_type, status, bid_amount,
			response_time_ms, payload, response, compliance_included, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, tx.ID, tx.LeadID, tx.BuyerID, tx.ActionType, tx.Status, bidAmount,
		tx.ResponseTimeMs, tx.Payload, tx.Response, tx.ComplianceIncluded, tx.CreatedAt)
	if err != nil {
		return Classify(err)
	}
	return nil
}

// CountBuyerDailyPosts counts SUCCESS POST rows for buyerID since the start
// of "now"'s day in tz -- the daily quota boundary the glossary documents.
func (r *TransactionRepository) CountBuyerDailyPosts(ctx context.Context, buyerID uuid.UUID, now time.Time, tz *time.Location) (int, error) {
	start := startOfDay(now, tz)
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM transactions
		WHERE buyer_id = $1 AND action_type = 'POST' AND status = 'SUCCESS' AND created_at >= $2
	`, buyerID, start).Scan(&count)
	if err != nil {
		return 0, Classify(err)
	}
	return count, nil
}

// GetHighestPingBid returns the maximum non-null bidAmount across
// (PING, SUCCESS) rows for leadID, or Zero if none.
func (r *TransactionRepository) GetHighestPingBid(ctx context.Context, leadID uuid.UUID) (money.Money, error) {
	var raw *string
	err := r.db.QueryRow(ctx, `
		SELECT MAX(bid_amount::numeric)::text FROM transactions
		WHERE lead_id = $1 AND action_type = 'PING' AND status = 'SUCCESS' AND bid_amount IS NOT NULL
	`, leadID).Scan(&raw)
	if err != nil {
		return money.Zero, Classify(err)
	}
	if raw == nil {
		return money.Zero, nil
	}
	return money.FromAny(*raw)
}

// startOfDay returns 00:00:00 in tz for the calendar day containing t,
// inclusive, per the "start of day" glossary definition.
func startOfDay(t time.Time, tz *time.Location) time.Time {
	local := t.In(tz)
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, tz)
}

// ComplianceAuditRepository is append-only and never mutated.
type ComplianceAuditRepository struct {
	db querier
}

func NewComplianceAuditRepository(db querier) *ComplianceAuditRepository {
	return &ComplianceAuditRepository{db: db}
}

func (r *ComplianceAuditRepository) Insert(ctx context.Context, entry *auction.ComplianceAuditLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO compliance_audit_logs (id, lead_id, event_type, event_data, ip_address, user_agent, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, entry.ID, entry.LeadID, entry.EventType, entry.EventData, entry.IPAddress, entry.UserAgent, entry.CreatedAt)
	if err != nil {
		return Classify(err)
	}
	return nil
}

// WebhookAuditRepository persists one row per accepted webhook request.
type WebhookAuditRepository struct {
	db querier
}

func NewWebhookAuditRepository(db querier) *WebhookAuditRepository {
	return &WebhookAuditRepository{db: db}
}

func (r *WebhookAuditRepository) Insert(ctx context.Context, a *auction.WebhookAudit) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO webhook_audits (id, buyer_id, transaction_id, envelope_hash, action, received_at, http_status)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, a.ID, a.BuyerID, a.TransactionID, a.EnvelopeHash, a.Action, a.ReceivedAt, a.HTTPStatus)
	if err != nil {
		return Classify(err)
	}
	return nil
}

// FindByTransactionID looks up a prior WebhookAudit for the same
// buyer-supplied transactionId -- the idempotency check for replayed
// deliveries.
func (r *WebhookAuditRepository) FindByTransactionID(ctx context.Context, buyerID uuid.UUID, transactionID string) (*auction.WebhookAudit, error) {
	var a auction.WebhookAudit
	err := r.db.QueryRow(ctx, `
		SELECT id, buyer_id, transaction_id, envelope_hash, action, received_at, http_status
		FROM webhook_audits WHERE buyer_id = $1 AND transaction_id = $2
		ORDER BY received_at DESC LIMIT 1
	`, buyerID, transactionID).Scan(&a.ID, &a.BuyerID, &a.TransactionID, &a.EnvelopeHash, &a.Action, &a.ReceivedAt, &a.HTTPStatus)
	if err != nil {
		return nil, Classify(err)
	}
	return &a, nil
}

// StatusHistoryRepository is append-only.
type StatusHistoryRepository struct {
	db querier
}

func NewStatusHistoryRepository(db querier) *StatusHistoryRepository {
	return &StatusHistoryRepository{db: db}
}

func (r *StatusHistoryRepository) Insert(ctx context.Context, h lead.StatusHistory) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO lead_status_history (id, lead_id, from_status, to_status, reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, h.ID, h.LeadID, h.From, h.To, h.Reason, h.CreatedAt)
	if err != nil {
		return Classify(err)
	}
	return nil
}
