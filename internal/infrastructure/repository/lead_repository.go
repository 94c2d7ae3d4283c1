package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/leadworks/auction-broker/internal/domain/lead"
	"github.com/leadworks/auction-broker/internal/domain/mapping"
	"github.com/leadworks/auction-broker/internal/domain/money"
)

// LeadRepository is the exclusive writer of Lead rows during an auction; the
// Auction Engine claims, sells, rejects and fails leads through this gateway.
type LeadRepository struct {
	db querier
}

// NewLeadRepository constructs a LeadRepository bound to a pool or transaction.
func NewLeadRepository(db querier) *LeadRepository {
	return &LeadRepository{db: db}
}

// Create inserts a new PENDING lead.
func (r *LeadRepository) Create(ctx context.Context, l *lead.Lead) error {
	formData, err := json.Marshal(l.FormData.ToAny())
	if err != nil {
		return Classify(err)
	}
	attribution, err := json.Marshal(l.Compliance.Attribution.ToAny())
	if err != nil {
		return Classify(err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO leads (
			id, service_type_id, zip_code, owns_home, timeframe, form_data,
			trusted_form_cert_url, trusted_form_cert_id, jornaya_lead_id, tcpa_consent, attribution,
			lead_quality_score, status, winning_buyer_id, winning_bid, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`,
		l.ID, l.ServiceTypeID, l.ZipCode, l.OwnsHome, l.Timeframe, formData,
		l.Compliance.TrustedFormCertURL, l.Compliance.TrustedFormCertID, l.Compliance.JornayaLeadID, l.Compliance.TCPAConsent, attribution,
		l.LeadQualityScore, l.Status, l.WinningBuyerID, winningBidValue(l.WinningBid), l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		return Classify(err)
	}
	return nil
}

// GetByID loads a lead by id.
func (r *LeadRepository) GetByID(ctx context.Context, id uuid.UUID) (*lead.Lead, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, service_type_id, zip_code, owns_home, timeframe, form_data,
			trusted_form_cert_url, trusted_form_cert_id, jornaya_lead_id, tcpa_consent, attribution,
			lead_quality_score, status, winning_buyer_id, winning_bid, created_at, updated_at
		FROM leads WHERE id = $1
	`, id)
	return scanLead(row)
}

// UpdateStatus persists a lead's status, winner, and winningBid fields --
// the only mutation path the Auction Engine uses once a lead is claimed.
func (r *LeadRepository) UpdateStatus(ctx context.Context, l *lead.Lead) error {
	_, err := r.db.Exec(ctx, `
		UPDATE leads SET status=$2, winning_buyer_id=$3, winning_bid=$4, updated_at=$5
		WHERE id = $1
	`, l.ID, l.Status, l.WinningBuyerID, winningBidValue(l.WinningBid), l.UpdatedAt)
	if err != nil {
		return Classify(err)
	}
	return nil
}

// ClaimPending atomically claims a PENDING lead for processing: it is
// expected to run inside WithTransaction together with the PENDING
// precondition check (the row lock from SELECT ... FOR UPDATE combined with
// this UPDATE enforces at-most-once claiming).
func (r *LeadRepository) ClaimPending(ctx context.Context, id uuid.UUID) (*lead.Lead, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, service_type_id, zip_code, owns_home, timeframe, form_data,
			trusted_form_cert_url, trusted_form_cert_id, jornaya_lead_id, tcpa_consent, attribution,
			lead_quality_score, status, winning_buyer_id, winning_bid, created_at, updated_at
		FROM leads WHERE id = $1 AND status = 'PENDING'
		FOR UPDATE
	`, id)
	l, err := scanLead(row)
	if err != nil {
		return nil, err
	}
	l.Claim()
	if err := r.UpdateStatus(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

func scanLead(row rowScanner) (*lead.Lead, error) {
	var (
		l             lead.Lead
		formDataRaw   []byte
		attributionRw []byte
		winningBid    *money.Money
	)
	err := row.Scan(
		&l.ID, &l.ServiceTypeID, &l.ZipCode, &l.OwnsHome, &l.Timeframe, &formDataRaw,
		&l.Compliance.TrustedFormCertURL, &l.Compliance.TrustedFormCertID, &l.Compliance.JornayaLeadID, &l.Compliance.TCPAConsent, &attributionRw,
		&l.LeadQualityScore, &l.Status, &l.WinningBuyerID, &winningBid, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, Classify(err)
	}

	var formDataAny interface{}
	if len(formDataRaw) > 0 {
		if err := json.Unmarshal(formDataRaw, &formDataAny); err != nil {
			return nil, Classify(err)
		}
	}
	l.FormData = mapping.FromAny(formDataAny)

	var attributionAny interface{}
	if len(attributionRw) > 0 {
		if err := json.Unmarshal(attributionRw, &attributionAny); err != nil {
			return nil, Classify(err)
		}
	}
	l.Compliance.Attribution = mapping.FromAny(attributionAny)
	l.WinningBid = winningBid

	return &l, nil
}

func winningBidValue(m *money.Money) interface{} {
	if m == nil {
		return nil
	}
	return m.String()
}

// rowScanner is satisfied by pgx.Row.
type rowScanner interface {
	Scan(dest ...interface{}) error
}
