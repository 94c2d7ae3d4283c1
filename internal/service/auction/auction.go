// Package auction claims a pending lead, resolves eligible buyers, fans
// out PING calls in parallel, ranks the bids, POSTs to the winner with
// fallback to the next-best bid on failure, and persists every step
// transactionally.
package auction

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	domainauction "github.com/leadworks/auction-broker/internal/domain/auction"
	"github.com/leadworks/auction-broker/internal/domain/buyer"
	"github.com/leadworks/auction-broker/internal/domain/errors"
	"github.com/leadworks/auction-broker/internal/domain/lead"
	"github.com/leadworks/auction-broker/internal/domain/mapping"
	"github.com/leadworks/auction-broker/internal/domain/money"
	"github.com/leadworks/auction-broker/internal/infrastructure/repository"
	"github.com/leadworks/auction-broker/internal/metrics"
	"github.com/leadworks/auction-broker/internal/service/buyerclient"
	"github.com/leadworks/auction-broker/internal/service/eligibility"
)

// OutcomeStatus is the terminal result of one RunAuction call.
type OutcomeStatus string

const (
	OutcomeSold     OutcomeStatus = "SOLD"
	OutcomeRejected OutcomeStatus = "REJECTED"
	OutcomeFailed   OutcomeStatus = "FAILED"
)

// Reject/fail reasons attached to a terminal outcome.
const (
	ReasonNoEligibleBuyers   = "NO_ELIGIBLE_BUYERS"
	ReasonNoBids             = "NO_BIDS"
	ReasonAllPostsFailed     = "ALL_POSTS_FAILED"
	ReasonMissingTrustedForm = "MISSING_TRUSTED_FORM"
	ReasonMissingJornaya     = "MISSING_JORNAYA"
	ReasonOutOfRange         = "OUT_OF_RANGE"
)

// Outcome is RunAuction's result.
type Outcome struct {
	LeadID     uuid.UUID
	Status     OutcomeStatus
	WinnerID   *uuid.UUID
	WinningBid *money.Money
	Reason     string
}

// Config tunes the engine's timing and retry behavior.
type Config struct {
	AuctionSlack    time.Duration
	PostMaxAttempts int
}

// Engine is the Auction Engine.
type Engine struct {
	store       Store
	eligibility EligibilityResolver
	buyers      *buyerclient.Client
	logger      *zap.Logger
	cfg         Config
	metrics     *metrics.Registry
}

// New constructs an Engine. metrics may be nil, in which case auction and
// buyer-call instrumentation is skipped.
func New(store Store, idx EligibilityResolver, buyers *buyerclient.Client, logger *zap.Logger, cfg Config, reg *metrics.Registry) *Engine {
	if cfg.PostMaxAttempts <= 0 {
		cfg.PostMaxAttempts = 3
	}
	if cfg.AuctionSlack <= 0 {
		cfg.AuctionSlack = 500 * time.Millisecond
	}
	return &Engine{store: store, eligibility: idx, buyers: buyers, logger: logger, cfg: cfg, metrics: reg}
}

// pingAttempt is one eligible buyer's PING outcome, valid or not.
type pingAttempt struct {
	buyer      eligibility.RankedBuyer
	result     buyerclient.PingResult
	bidAmount  *money.Money // non-nil only when accepted and within the effective range
	outOfRange bool
}

// RunAuction executes the full state machine for one lead.
func (e *Engine) RunAuction(ctx context.Context, leadID uuid.UUID) (*Outcome, error) {
	start := time.Now()
	l, err := e.claim(ctx, leadID)
	if err != nil {
		return nil, err
	}

	outcome, err := e.run(ctx, l)
	if err != nil {
		outcome, _ = e.fail(ctx, l, err)
	}
	e.recordOutcome(outcome, time.Since(start))
	return outcome, nil
}

func (e *Engine) recordOutcome(outcome *Outcome, elapsed time.Duration) {
	if e.metrics == nil || outcome == nil {
		return
	}
	e.metrics.RecordAuctionCompleted(string(outcome.Status), outcome.Reason, elapsed)
}

// claim loads the lead and transitions it PENDING -> PROCESSING inside a
// single transaction, enforcing at-most-once auction side effects.
func (e *Engine) claim(ctx context.Context, leadID uuid.UUID) (*lead.Lead, error) {
	var claimed *lead.Lead
	err := e.store.WithTransaction(ctx, func(s Store) error {
		l, err := s.ClaimPending(ctx, leadID)
		if err != nil {
			return err
		}
		if err := s.InsertStatusHistory(ctx, lead.NewStatusHistory(leadID, lead.StatusPending, lead.StatusProcessing, "")); err != nil {
			return err
		}
		claimed = l
		return nil
	})
	if err != nil {
		if repoErr, ok := err.(*repository.Error); ok && repoErr.Category == repository.CategoryNotFound {
			return nil, errors.ErrAlreadyProcessing
		}
		return nil, err
	}
	return claimed, nil
}

// run implements steps 2-8 of the state machine once the lead is claimed.
func (e *Engine) run(ctx context.Context, l *lead.Lead) (*Outcome, error) {
	elig, err := e.eligibility.GetEligibleBuyers(ctx, l.ServiceTypeID, l.ZipCode, eligibility.Options{})
	if err != nil {
		return nil, err
	}
	if len(elig.Eligible) == 0 {
		return e.reject(ctx, l, ReasonNoEligibleBuyers, "AUCTION_NO_BUYERS")
	}

	view := buildView(l)
	attempts := e.fanOutPings(ctx, l, elig.Eligible, view)
	e.persistPings(ctx, l.ID, attempts)


	candidates := rankableCandidates(attempts)
	if len(candidates) == 0 {
		return e.reject(ctx, l, ReasonNoBids, "AUCTION_NO_BIDS")
	}
	ranked := domainauction.RankBids(candidates)

	return e.postToWinners(ctx, l, ranked, attempts, view)
}

// fanOutPings issues one PING per eligible buyer concurrently, under a
// shared auction-scoped deadline equal to the longest pingTimeoutMs among
// participants plus the configured slack.
func (e *Engine) fanOutPings(ctx context.Context, l *lead.Lead, eligible []eligibility.RankedBuyer, view mapping.View) []pingAttempt {
	maxTimeout := 0
	for _, b := range eligible {
		if b.PingTimeoutMs > maxTimeout {
			maxTimeout = b.PingTimeoutMs
		}
	}
	auctionCtx, cancel := context.WithTimeout(ctx, time.Duration(maxTimeout)*time.Millisecond+e.cfg.AuctionSlack)
	defer cancel()

	attempts := make([]pingAttempt, len(eligible))
	var wg sync.WaitGroup
	for i, b := range eligible {
		if skip, reason := validateCompliance(b, l); skip {
			attempts[i] = pingAttempt{buyer: b, result: buyerclient.PingResult{Status: buyerclient.StatusFailed, Reason: reason}}
			continue
		}

		wg.Add(1)
		go func(i int, b eligibility.RankedBuyer) {
			defer wg.Done()
			payload := buildPingPayload(b, view)
			body, _ := json.Marshal(payload.ToAny())
			res := e.buyers.Ping(auctionCtx, rankedBuyerToBuyer(b), body, b.PingTimeoutMs)
			if e.metrics != nil {
				e.metrics.RecordBuyerPing(b.BuyerName, string(pingStatus(res)), time.Duration(res.ResponseTimeMs)*time.Millisecond)
			}
			attempts[i] = evaluateBid(b, res)
		}(i, b)
	}
	wg.Wait()
	return attempts
}

// validateCompliance skips a buyer (without PINGing) when the lead is
// missing a compliance token that buyer's config declares required.
func validateCompliance(b eligibility.RankedBuyer, l *lead.Lead) (skip bool, reason string) {
	if b.RequiresTrustedForm && l.Compliance.TrustedFormCertURL == "" {
		return true, ReasonMissingTrustedForm
	}
	if b.RequiresJornaya && l.Compliance.JornayaLeadID == "" {
		return true, ReasonMissingJornaya
	}
	return false, ""
}

// evaluateBid checks an accepted bid against the buyer's effective range
// (no clamping): bids outside the range are kept as a SUCCESS PING but do not carry a bidAmount
// and cannot win.
func evaluateBid(b eligibility.RankedBuyer, res buyerclient.PingResult) pingAttempt {
	a := pingAttempt{buyer: b, result: res}
	if res.Status != buyerclient.StatusSuccess || !res.Accepted || res.BidAmount == nil {
		return a
	}
	if !res.BidAmount.InRange(b.MinBid, b.MaxBid) {
		a.outOfRange = true
		return a
	}
	bid := *res.BidAmount
	a.bidAmount = &bid
	return a
}

// persistPings writes one Transaction row per PING attempt, whether
// SUCCESS/FAILED/TIMEOUT. A single retry absorbs a transient write failure;
// the auction still proceeds to ranking on in-memory data if it persists.
func (e *Engine) persistPings(ctx context.Context, leadID uuid.UUID, attempts []pingAttempt) {
	for _, a := range attempts {
		tx := domainauction.NewTransaction(leadID, a.buyer.BuyerID, domainauction.ActionPing, pingStatus(a.result))
		tx.BidAmount = a.bidAmount
		tx.ResponseTimeMs = int(a.result.ResponseTimeMs)
		tx.Response = pingResponseBytes(a)

		if err := e.store.InsertTransaction(ctx, tx); err != nil {
			e.logger.Warn("ping transaction insert failed, retrying once", zap.Error(err))
			if err := e.store.InsertTransaction(ctx, tx); err != nil {
				e.logger.Error("ping transaction insert failed twice, continuing with in-memory bid data", zap.Error(err))
			}
		}
	}
}

func pingStatus(r buyerclient.PingResult) domainauction.TxStatus {
	switch r.Status {
	case buyerclient.StatusTimeout:
		return domainauction.TxTimeout
	case buyerclient.StatusSuccess:
		return domainauction.TxSuccess
	default:
		return domainauction.TxFailed
	}
}

func pingResponseBytes(a pingAttempt) []byte {
	payload := map[string]interface{}{"accepted": a.result.Accepted}
	if a.outOfRange {
		payload["reason"] = ReasonOutOfRange
	} else if a.result.Reason != "" {
		payload["reason"] = a.result.Reason
	}
	b, _ := json.Marshal(payload)
	return b
}

func rankableCandidates(attempts []pingAttempt) []domainauction.Candidate {
	var out []domainauction.Candidate
	for _, a := range attempts {
		if a.bidAmount == nil {
			continue
		}
		out = append(out, domainauction.Candidate{BuyerID: a.buyer.BuyerID, BidAmount: *a.bidAmount, Priority: a.buyer.Priority})
	}
	return out
}

// postToWinners attempts the POST against the ranked candidates in order,
// falling back to the next-best bid on a terminal failure.
func (e *Engine) postToWinners(ctx context.Context, l *lead.Lead, ranked []domainauction.Candidate, attempts []pingAttempt, view mapping.View) (*Outcome, error) {
	byBuyer := make(map[uuid.UUID]eligibility.RankedBuyer, len(attempts))
	for _, a := range attempts {
		byBuyer[a.buyer.BuyerID] = a.buyer
	}

	for _, cand := range ranked {
		b := byBuyer[cand.BuyerID]
		payload := buildPostPayload(b, view)
		body, _ := json.Marshal(payload.ToAny())

		res := e.buyers.Post(ctx, rankedBuyerToBuyer(b), body, b.PostTimeoutMs, e.cfg.PostMaxAttempts)

		postStatus := domainauction.TxFailed
		if res.Status == buyerclient.StatusSuccess && res.Accepted {
			postStatus = domainauction.TxSuccess
		} else if res.Status == buyerclient.StatusTimeout {
			postStatus = domainauction.TxTimeout
		}
		if e.metrics != nil {
			e.metrics.RecordBuyerPost(b.BuyerName, string(postStatus), time.Duration(res.ResponseTimeMs)*time.Millisecond)
		}

		if postStatus != domainauction.TxSuccess {
			tx := domainauction.NewTransaction(l.ID, cand.BuyerID, domainauction.ActionPost, postStatus)
			tx.ResponseTimeMs = int(res.ResponseTimeMs)
			_ = e.store.InsertTransaction(ctx, tx)
			continue
		}

		return e.sell(ctx, l, cand.BuyerID, cand.BidAmount, res)
	}

	return e.fail(ctx, l, errors.ErrAllPostsFailed)
}

// sell commits the winning POST: lead transitions to SOLD, the POST row is
// inserted, and a LEAD_SOLD compliance audit row is appended, all within one
// transaction to preserve the invariant that a SOLD lead always has exactly
// one successful POST row.
func (e *Engine) sell(ctx context.Context, l *lead.Lead, winnerID uuid.UUID, bid money.Money, res buyerclient.PostResult) (*Outcome, error) {
	err := e.store.WithTransaction(ctx, func(s Store) error {
		prevStatus := l.Status
		l.Sell(winnerID, bid)
		if err := s.UpdateLeadStatus(ctx, l); err != nil {
			return err
		}

		tx := domainauction.NewTransaction(l.ID, winnerID, domainauction.ActionPost, domainauction.TxSuccess)
		tx.BidAmount = &bid
		tx.ResponseTimeMs = int(res.ResponseTimeMs)
		if err := s.InsertTransaction(ctx, tx); err != nil {
			return err
		}

		if err := s.InsertStatusHistory(ctx, lead.NewStatusHistory(l.ID, prevStatus, lead.StatusSold, "")); err != nil {
			return err
		}

		eventData, _ := json.Marshal(map[string]interface{}{"winningBuyerId": winnerID, "winningBid": bid.String()})
		return s.InsertComplianceAudit(ctx, domainauction.NewComplianceAuditLog(l.ID, "LEAD_SOLD", eventData))
	})
	if err != nil {
		return nil, err
	}
	return &Outcome{LeadID: l.ID, Status: OutcomeSold, WinnerID: &winnerID, WinningBid: &bid}, nil
}

// reject transitions the lead to REJECTED, appending the status history row
// and a compliance audit entry under the given eventType.
func (e *Engine) reject(ctx context.Context, l *lead.Lead, reason, eventType string) (*Outcome, error) {
	err := e.store.WithTransaction(ctx, func(s Store) error {
		prevStatus := l.Status
		l.Reject()
		if err := s.UpdateLeadStatus(ctx, l); err != nil {
			return err
		}
		if err := s.InsertStatusHistory(ctx, lead.NewStatusHistory(l.ID, prevStatus, lead.StatusRejected, reason)); err != nil {
			return err
		}
		eventData, _ := json.Marshal(map[string]interface{}{"reason": reason})
		return s.InsertComplianceAudit(ctx, domainauction.NewComplianceAuditLog(l.ID, eventType, eventData))
	})
	if err != nil {
		return nil, err
	}
	return &Outcome{LeadID: l.ID, Status: OutcomeRejected, Reason: reason}, nil
}

// fail transitions the lead to FAILED after an unrecoverable auction error;
// leads in FAILED are not automatically re-queued by this engine.
func (e *Engine) fail(ctx context.Context, l *lead.Lead, cause error) (*Outcome, error) {
	reason := ReasonAllPostsFailed
	if cause != nil && cause != errors.ErrAllPostsFailed {
		reason = cause.Error()
	}
	err := e.store.WithTransaction(ctx, func(s Store) error {
		prevStatus := l.Status
		l.Fail()
		if err := s.UpdateLeadStatus(ctx, l); err != nil {
			return err
		}
		if err := s.InsertStatusHistory(ctx, lead.NewStatusHistory(l.ID, prevStatus, lead.StatusFailed, reason)); err != nil {
			return err
		}
		eventData, _ := json.Marshal(map[string]interface{}{"error": reason})
		return s.InsertComplianceAudit(ctx, domainauction.NewComplianceAuditLog(l.ID, "AUCTION_ERROR", eventData))
	})
	if err != nil {
		e.logger.Error("failed to persist auction failure", zap.Error(err), zap.String("lead_id", l.ID.String()))
	}
	return &Outcome{LeadID: l.ID, Status: OutcomeFailed, Reason: reason}, nil
}

// buildView assembles the composite mapping source for a lead: its own
// fields, form data, compliance tokens, and attribution, each rooted under
// the path segment the Field Mapper's sourcePath convention expects.
func buildView(l *lead.Lead) mapping.View {
	leadMap := map[string]mapping.Value{
		"zipCode":          mapping.NewStr(l.ZipCode),
		"ownsHome":         mapping.NewBool(l.OwnsHome),
		"timeframe":        mapping.NewStr(string(l.Timeframe)),
		"leadQualityScore": mapping.NewNum(float64(l.LeadQualityScore)),
		"leadId":           mapping.NewStr(l.ID.String()),
	}
	complianceMap := map[string]mapping.Value{
		"trustedForm": mapping.NewMap(map[string]mapping.Value{
			"certUrl": mapping.NewStr(l.Compliance.TrustedFormCertURL),
			"certId":  mapping.NewStr(l.Compliance.TrustedFormCertID),
			"score":   mapping.NewNum(float64(l.Compliance.TrustedFormScore)),
		}),
		"jornaya": mapping.NewMap(map[string]mapping.Value{
			"leadId": mapping.NewStr(l.Compliance.JornayaLeadID),
		}),
		"tcpaConsent": mapping.NewBool(l.Compliance.TCPAConsent),
	}
	return mapping.View{
		Lead:        mapping.NewMap(leadMap),
		FormData:    l.FormData,
		Compliance:  mapping.NewMap(complianceMap),
		Attribution: l.Compliance.Attribution,
	}
}

func buildPingPayload(b eligibility.RankedBuyer, view mapping.View) mapping.Value {
	out := mapping.Project(b.PingTemplate, view)
	return mapping.ProjectCompliance(b.ComplianceFieldMappings, view, out)
}

func buildPostPayload(b eligibility.RankedBuyer, view mapping.View) mapping.Value {
	out := mapping.Project(b.PostTemplate, view)
	return mapping.ProjectCompliance(b.ComplianceFieldMappings, view, out)
}

func rankedBuyerToBuyer(b eligibility.RankedBuyer) buyer.Buyer {
	return buyer.Buyer{
		ID:            b.BuyerID,
		Name:          b.BuyerName,
		APIURL:        b.APIURL,
		Auth:          b.Auth,
		PingTimeoutMs: b.PingTimeoutMs,
		PostTimeoutMs: b.PostTimeoutMs,
		WebhookSecret: b.WebhookSecret,
	}
}
