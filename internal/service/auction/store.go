package auction

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	domainauction "github.com/leadworks/auction-broker/internal/domain/auction"
	"github.com/leadworks/auction-broker/internal/domain/lead"
	"github.com/leadworks/auction-broker/internal/infrastructure/database"
	"github.com/leadworks/auction-broker/internal/infrastructure/repository"
	"github.com/leadworks/auction-broker/internal/service/eligibility"
)

// EligibilityResolver is the narrow slice of the Eligibility Index the engine
// calls, so a test can stub in fixed rankings instead of standing up a real
// cache and repository.
type EligibilityResolver interface {
	GetEligibleBuyers(ctx context.Context, serviceTypeID uuid.UUID, zipCode string, opts eligibility.Options) (*eligibility.Result, error)
}

// Store is the narrow persistence surface the engine needs, small enough
// that the engine can be exercised against a fake in tests instead of a
// live database.
type Store interface {
	WithTransaction(ctx context.Context, fn func(Store) error) error
	ClaimPending(ctx context.Context, leadID uuid.UUID) (*lead.Lead, error)
	UpdateLeadStatus(ctx context.Context, l *lead.Lead) error
	InsertStatusHistory(ctx context.Context, h lead.StatusHistory) error
	InsertTransaction(ctx context.Context, tx *domainauction.Transaction) error
	InsertComplianceAudit(ctx context.Context, a *domainauction.ComplianceAuditLog) error
}

// pgStore is the production Store, backed by the persistence gateway's
// repository package and bound to the connection pool.
type pgStore struct {
	pool *database.ConnectionPool
}

// NewStore constructs the production Store bound to the connection pool.
func NewStore(pool *database.ConnectionPool) Store {
	return &pgStore{pool: pool}
}

func (s *pgStore) WithTransaction(ctx context.Context, fn func(Store) error) error {
	return s.pool.WithTransaction(ctx, func(tx pgx.Tx) error {
		return fn(&txStore{tx: tx})
	})
}

func (s *pgStore) ClaimPending(ctx context.Context, leadID uuid.UUID) (*lead.Lead, error) {
	return repository.NewLeadRepository(s.pool.Pool()).ClaimPending(ctx, leadID)
}

func (s *pgStore) UpdateLeadStatus(ctx context.Context, l *lead.Lead) error {
	return repository.NewLeadRepository(s.pool.Pool()).UpdateStatus(ctx, l)
}

func (s *pgStore) InsertStatusHistory(ctx context.Context, h lead.StatusHistory) error {
	return repository.NewStatusHistoryRepository(s.pool.Pool()).Insert(ctx, h)
}

func (s *pgStore) InsertTransaction(ctx context.Context, tx *domainauction.Transaction) error {
	return repository.NewTransactionRepository(s.pool.Pool()).Insert(ctx, tx)
}

func (s *pgStore) InsertComplianceAudit(ctx context.Context, a *domainauction.ComplianceAuditLog) error {
	return repository.NewComplianceAuditRepository(s.pool.Pool()).Insert(ctx, a)
}

// txStore is a Store bound to a single in-flight transaction; WithTransaction
// on a txStore runs fn against the same transaction (no nested transactions).
type txStore struct {
	tx pgx.Tx
}

func (s *txStore) WithTransaction(ctx context.Context, fn func(Store) error) error {
	return fn(s)
}

func (s *txStore) ClaimPending(ctx context.Context, leadID uuid.UUID) (*lead.Lead, error) {
	return repository.NewLeadRepository(s.tx).ClaimPending(ctx, leadID)
}

func (s *txStore) UpdateLeadStatus(ctx context.Context, l *lead.Lead) error {
	return repository.NewLeadRepository(s.tx).UpdateStatus(ctx, l)
}

func (s *txStore) InsertStatusHistory(ctx context.Context, h lead.StatusHistory) error {
	return repository.NewStatusHistoryRepository(s.tx).Insert(ctx, h)
}

func (s *txStore) InsertTransaction(ctx context.Context, tx *domainauction.Transaction) error {
	return repository.NewTransactionRepository(s.tx).Insert(ctx, tx)
}

func (s *txStore) InsertComplianceAudit(ctx context.Context, a *domainauction.ComplianceAuditLog) error {
	return repository.NewComplianceAuditRepository(s.tx).Insert(ctx, a)
}
