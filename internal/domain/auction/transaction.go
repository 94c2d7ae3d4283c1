// Package auction holds the append-only audit types shared by the Auction
// Engine and Webhook Receiver: Transaction, ComplianceAuditLog, ServiceType,
// and WebhookAudit.
package auction

import (
	"time"

	"github.com/google/uuid"
	"github.com/leadworks/auction-broker/internal/domain/money"
)

// ActionType is the outbound attempt kind recorded by a Transaction row.
type ActionType string

const (
	ActionPing ActionType = "PING"
	ActionPost ActionType = "POST"
)

// TxStatus is the outcome of a single outbound attempt.
type TxStatus string

const (
	TxSuccess TxStatus = "SUCCESS"
	TxFailed  TxStatus = "FAILED"
	TxTimeout TxStatus = "TIMEOUT"
)

// Transaction is one row per outbound PING/POST attempt. Append-only; never
// mutated once inserted.
type Transaction struct {
	ID                 uuid.UUID
	LeadID             uuid.UUID
	BuyerID            uuid.UUID
	ActionType         ActionType
	Status             TxStatus
	BidAmount          *money.Money
	ResponseTimeMs     int
	Payload            []byte // outbound JSON blob
	Response           []byte // inbound JSON blob, or an error description
	ComplianceIncluded bool
	CreatedAt          time.Time
}

// NewTransaction stamps CreatedAt and assigns a fresh ID.
func NewTransaction(leadID, buyerID uuid.UUID, action ActionType, status TxStatus) *Transaction {
	return &Transaction{
		ID:         uuid.New(),
		LeadID:     leadID,
		BuyerID:    buyerID,
		ActionType: action,
		Status:     status,
		CreatedAt:  time.Now().UTC(),
	}
}

// ComplianceAuditLog is an append-only compliance event, never mutated.
type ComplianceAuditLog struct {
	ID        uuid.UUID
	LeadID    uuid.UUID
	EventType string
	EventData []byte
	IPAddress string
	UserAgent string
	CreatedAt time.Time
}

// NewComplianceAuditLog stamps CreatedAt and assigns a fresh ID.
func NewComplianceAuditLog(leadID uuid.UUID, eventType string, eventData []byte) *ComplianceAuditLog {
	return &ComplianceAuditLog{
		ID:        uuid.New(),
		LeadID:    leadID,
		EventType: eventType,
		EventData: eventData,
		CreatedAt: time.Now().UTC(),
	}
}

// ServiceType is a read-mostly lookup row, e.g. "windows", "roofing".
type ServiceType struct {
	ID          uuid.UUID
	Name        string
	DisplayName string
	FormSchema  []byte
	Active      bool
}

// WebhookAudit is one row per accepted webhook request, retained 30 days.
type WebhookAudit struct {
	ID            uuid.UUID
	BuyerID       uuid.UUID
	TransactionID *string // the buyer-supplied transactionId, if any, used for idempotency
	EnvelopeHash  string
	Action        string
	ReceivedAt    time.Time
	HTTPStatus    int
}

// NewWebhookAudit stamps ReceivedAt and assigns a fresh ID.
func NewWebhookAudit(buyerID uuid.UUID, transactionID *string, envelopeHash, action string, httpStatus int) *WebhookAudit {
	return &WebhookAudit{
		ID:            uuid.New(),
		BuyerID:       buyerID,
		TransactionID: transactionID,
		EnvelopeHash:  envelopeHash,
		Action:        action,
		ReceivedAt:    time.Now().UTC(),
		HTTPStatus:    httpStatus,
	}
}
