// Package eligibility resolves, for a (serviceTypeId, zipCode) pair, the
// ranked list of eligible buyers and the reasons any candidate was
// excluded.
package eligibility

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leadworks/auction-broker/internal/domain/buyer"
	"github.com/leadworks/auction-broker/internal/domain/mapping"
	"github.com/leadworks/auction-broker/internal/domain/money"
	"github.com/leadworks/auction-broker/internal/infrastructure/cache"
	"github.com/leadworks/auction-broker/internal/infrastructure/repository"
)

// Reason names why a candidate buyer was excluded from an auction.
type Reason string

const (
	ReasonDailyQuota       Reason = "DAILY_QUOTA"
	ReasonExcludedByCaller Reason = "EXCLUDED_BY_CALLER"
)

// Excluded pairs a buyer with the reason it did not make the eligible list.
type Excluded struct {
	BuyerID uuid.UUID
	Reason  Reason
}

// RankedBuyer is one eligible buyer with its resolved constraints, ready to
// be PINGed by the Auction Engine.
type RankedBuyer struct {
	BuyerID                 uuid.UUID
	BuyerName               string
	APIURL                  string
	Auth                    buyer.AuthConfig
	PingTimeoutMs           int
	PostTimeoutMs           int
	MinBid                  money.Money
	MaxBid                  money.Money
	Priority                int // the zip row's priority -- the engine ranks on this one (see design notes)
	PingTemplate            mapping.FieldMapping
	PostTemplate            mapping.FieldMapping
	ComplianceFieldMappings []mapping.ComplianceAlias
	RequiresTrustedForm     bool
	RequiresJornaya         bool
	WebhookSecret           string
	DailyCountUsed          int
}

// Options tunes a single getEligibleBuyers call.
type Options struct {
	ExcludeBuyers  []uuid.UUID
	MaxParticipants int // default 10
}

// Result is the eligibility read's output.
type Result struct {
	Eligible []RankedBuyer
	Excluded []Excluded
}

// Index is the Eligibility Index service.
type Index struct {
	zipRepo *repository.ZipCodeRepository
	txRepo  *repository.TransactionRepository
	cache   cache.Cache
	logger  *zap.Logger
	ttl     time.Duration
	tz      *time.Location
}

// New constructs an Index. tz governs the "start of day" boundary used by
// the daily quota check.
func New(zipRepo *repository.ZipCodeRepository, txRepo *repository.TransactionRepository, c cache.Cache, logger *zap.Logger, ttl time.Duration, tz *time.Location) *Index {
	return &Index{zipRepo: zipRepo, txRepo: txRepo, cache: c, logger: logger, ttl: ttl, tz: tz}
}

// GetEligibleBuyers runs the single-pass join, quota, and caller-exclusion
// checks, then sorts and truncates to options.MaxParticipants.
func (idx *Index) GetEligibleBuyers(ctx context.Context, serviceTypeID uuid.UUID, zipCode string, opts Options) (*Result, error) {
	rows, err := idx.loadJoinRows(ctx, serviceTypeID, zipCode)
	if err != nil {
		return nil, err
	}

	maxParticipants := opts.MaxParticipants
	if maxParticipants <= 0 {
		maxParticipants = 10
	}
	excludeSet := make(map[uuid.UUID]bool, len(opts.ExcludeBuyers))
	for _, id := range opts.ExcludeBuyers {
		excludeSet[id] = true
	}

	res := &Result{}
	now := time.Now()

	for _, row := range rows {
		if excludeSet[row.BuyerID] {
			res.Excluded = append(res.Excluded, Excluded{BuyerID: row.BuyerID, Reason: ReasonExcludedByCaller})
			continue
		}

		dailyCount, err := idx.txRepo.CountBuyerDailyPosts(ctx, row.BuyerID, now, idx.tz)
		if err != nil {
			return nil, err
		}
		if row.MaxLeadsPerDay != nil && dailyCount >= *row.MaxLeadsPerDay {
			res.Excluded = append(res.Excluded, Excluded{BuyerID: row.BuyerID, Reason: ReasonDailyQuota})
			continue
		}

		minBid := row.ConfigMinBid
		if row.ZipMinBid != nil {
			minBid = *row.ZipMinBid
		}
		maxBid := row.ConfigMaxBid
		if row.ZipMaxBid != nil {
			maxBid = *row.ZipMaxBid
		}

		// The zip row's priority always wins ranking; the service-config
		// priority is read from the join but never applied, so it's
		// discarded explicitly here instead of silently dropped.
		_ = row.ConfigPriority

		res.Eligible = append(res.Eligible, RankedBuyer{
			BuyerID:                 row.BuyerID,
			BuyerName:               row.BuyerName,
			APIURL:                  row.APIURL,
			Auth:                    row.Auth,
			PingTimeoutMs:           row.PingTimeoutMs,
			PostTimeoutMs:           row.PostTimeoutMs,
			MinBid:                  minBid,
			MaxBid:                  maxBid,
			Priority:                row.ZipPriority,
			PingTemplate:            row.PingTemplate,
			PostTemplate:            row.PostTemplate,
			ComplianceFieldMappings: row.ComplianceFieldMappings,
			RequiresTrustedForm:     row.RequiresTrustedForm,
			RequiresJornaya:         row.RequiresJornaya,
			WebhookSecret:           row.WebhookSecret,
			DailyCountUsed:          dailyCount,
		})
	}

	sort.SliceStable(res.Eligible, func(i, j int) bool {
		a, b := res.Eligible[i], res.Eligible[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if cmp := a.MaxBid.Cmp(b.MaxBid); cmp != 0 {
			return cmp > 0
		}
		return a.BuyerID.String() < b.BuyerID.String()
	})

	if len(res.Eligible) > maxParticipants {
		res.Eligible = res.Eligible[:maxParticipants]
	}

	return res, nil
}

// loadJoinRows serves steps 1-2 of the algorithm from cache when possible;
// the daily-count and caller-exclusion checks always recompute live.
func (idx *Index) loadJoinRows(ctx context.Context, serviceTypeID uuid.UUID, zipCode string) ([]repository.EligibilityRow, error) {
	key := cacheKey(serviceTypeID, zipCode)

	var cached []repository.EligibilityRow
	if err := idx.cache.GetJSON(ctx, key, &cached); err == nil {
		return cached, nil
	}

	rows, err := idx.zipRepo.ListEligible(ctx, serviceTypeID, zipCode)
	if err != nil {
		return nil, err
	}

	if err := idx.cache.SetJSON(ctx, key, rows, idx.ttl); err != nil {
		idx.logger.Warn("eligibility cache write failed", zap.Error(err))
	}

	return rows, nil
}

// InvalidateZip drops the cache entry for one (serviceTypeId, zipCode) pair,
// called by the admin write path outside this core.
func (idx *Index) InvalidateZip(ctx context.Context, serviceTypeID uuid.UUID, zipCode string) error {
	return idx.cache.Delete(ctx, cacheKey(serviceTypeID, zipCode))
}

// InvalidateAll drops every cached eligibility join, used for a broad admin
// write whose blast radius isn't known ahead of time.
func (idx *Index) InvalidateAll(ctx context.Context) error {
	return idx.cache.DeletePattern(ctx, cache.EligibilityPrefix)
}

func cacheKey(serviceTypeID uuid.UUID, zipCode string) string {
	return cache.EligibilityPrefix + serviceTypeID.String() + ":" + zipCode
}
