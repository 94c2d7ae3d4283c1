// Package lead defines the Lead aggregate and its lifecycle state machine.
package lead

import (
	"time"

	"github.com/google/uuid"
	"github.com/leadworks/auction-broker/internal/domain/mapping"
	"github.com/leadworks/auction-broker/internal/domain/money"
)

// Status is the Lead lifecycle state.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusSold       Status = "SOLD"
	StatusRejected   Status = "REJECTED"
	StatusFailed     Status = "FAILED"
)

// Timeframe is the caller's stated urgency.
type Timeframe string

const (
	TimeframeImmediate Timeframe = "IMMEDIATE"
	TimeframeThisWeek  Timeframe = "THIS_WEEK"
	TimeframeThisMonth Timeframe = "THIS_MONTH"
	TimeframeResearch  Timeframe = "RESEARCHING"
)

// ComplianceData carries opaque compliance tokens passed through unvalidated;
// TrustedForm/Jornaya acquisition is a collaborator's concern, not this core's.
type ComplianceData struct {
	TrustedFormCertURL string
	TrustedFormCertID  string
	TrustedFormScore   int // complianceScore band used for quality scoring, 0 if absent
	JornayaLeadID      string
	TCPAConsent        bool
	Attribution        mapping.Value
}

// Lead is a single submitted home-services inquiry and its auction outcome.
type Lead struct {
	ID               uuid.UUID
	ServiceTypeID    uuid.UUID
	ZipCode          string
	OwnsHome         bool
	Timeframe        Timeframe
	FormData         mapping.Value
	Compliance       ComplianceData
	LeadQualityScore int
	Status           Status
	WinningBuyerID   *uuid.UUID
	WinningBid       *money.Money
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// New constructs a PENDING lead and computes its quality score per the
// scoring rule: base 50, + a TrustedForm band bonus, + unvalidated-cert
// bonus, + Jornaya bonus, + TCPA consent bonus.
func New(serviceTypeID uuid.UUID, zipCode string, ownsHome bool, tf Timeframe, formData mapping.Value, compliance ComplianceData) *Lead {
	now := time.Now().UTC()
	l := &Lead{
		ID:            uuid.New(),
		ServiceTypeID: serviceTypeID,
		ZipCode:       zipCode,
		OwnsHome:      ownsHome,
		Timeframe:     tf,
		FormData:      formData,
		Compliance:    compliance,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	l.LeadQualityScore = computeQualityScore(compliance)
	return l
}

func computeQualityScore(c ComplianceData) int {
	score := 50
	switch {
	case c.TrustedFormCertURL != "" && c.TrustedFormScore >= 80:
		score += 25
	case c.TrustedFormCertURL != "" && c.TrustedFormScore >= 60:
		score += 15
	case c.TrustedFormCertURL != "":
		score += 5
	}
	if c.TrustedFormCertURL != "" && c.TrustedFormScore == 0 {
		score += 10 // cert present but unvalidated
	}
	if c.JornayaLeadID != "" {
		score += 20
	}
	if c.TCPAConsent {
		score += 5
	}
	if score > 100 {
		score = 100
	}
	return score
}

// QueuePriority returns "high" for leadQualityScore >= 80, else "normal".
func (l *Lead) QueuePriority() string {
	if l.LeadQualityScore >= 80 {
		return "high"
	}
	return "normal"
}

// Claim transitions PENDING -> PROCESSING. Callers must hold this inside a
// single persistence transaction together with the precondition check; this
// method only mutates in-memory state once the caller has verified the
// precondition under the transaction.
func (l *Lead) Claim() {
	l.Status = StatusProcessing
	l.UpdatedAt = time.Now().UTC()
}

// Sell transitions PROCESSING -> SOLD, recording the winner.
func (l *Lead) Sell(buyerID uuid.UUID, bid money.Money) {
	l.Status = StatusSold
	l.WinningBuyerID = &buyerID
	w := bid
	l.WinningBid = &w
	l.UpdatedAt = time.Now().UTC()
}

// Reject transitions PROCESSING -> REJECTED (or SOLD -> REJECTED via webhook
// reversal). winningBuyerId is retained across a SOLD->REJECTED reversal per
// the chosen reconciliation policy: audit trail takes priority over a clean
// reset.
func (l *Lead) Reject() {
	l.Status = StatusRejected
	l.UpdatedAt = time.Now().UTC()
}

// Fail transitions PROCESSING -> FAILED after an unrecoverable auction error.
func (l *Lead) Fail() {
	l.Status = StatusFailed
	l.UpdatedAt = time.Now().UTC()
}

// StatusHistory is one row per Lead status transition, append-only.
type StatusHistory struct {
	ID        uuid.UUID
	LeadID    uuid.UUID
	From      Status
	To        Status
	Reason    string
	CreatedAt time.Time
}

// NewStatusHistory records a transition.
func NewStatusHistory(leadID uuid.UUID, from, to Status, reason string) StatusHistory {
	return StatusHistory{
		ID:        uuid.New(),
		LeadID:    leadID,
		From:      from,
		To:        to,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
}
