// Package buyer defines the Buyer aggregate and its per-service-type,
// per-zip configuration rows read by the Eligibility Index.
package buyer

import (
	"time"

	"github.com/google/uuid"
	"github.com/leadworks/auction-broker/internal/domain/mapping"
	"github.com/leadworks/auction-broker/internal/domain/money"
)

// Type distinguishes a direct contractor buyer from a network reseller.
type Type string

const (
	TypeContractor Type = "CONTRACTOR"
	TypeNetwork    Type = "NETWORK"
)

// AuthKind tags the polymorphic authConfig variant.
type AuthKind string

const (
	AuthBearer AuthKind = "bearer"
	AuthBasic  AuthKind = "basic"
	AuthCustom AuthKind = "custom-headers"
)

// AuthConfig is the tagged variant {Bearer(token) | Basic(user,pass) |
// Custom(headers)} the Buyer Client pattern-matches on.
type AuthConfig struct {
	Kind     AuthKind
	Token    string            // bearer
	Username string            // basic
	Password string            // basic
	Headers  map[string]string // custom
}

// Buyer is a counterparty that receives PING/POST calls.
type Buyer struct {
	ID                      uuid.UUID
	Name                    string
	Type                    Type
	APIURL                  string
	Auth                    AuthConfig
	PingTimeoutMs           int
	PostTimeoutMs           int
	Active                  bool
	ComplianceFieldMappings []mapping.ComplianceAlias
	WebhookSecret           string
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// PingTimeout returns the buyer's ping deadline as a Duration.
func (b Buyer) PingTimeout() time.Duration {
	return time.Duration(b.PingTimeoutMs) * time.Millisecond
}

// PostTimeout returns the buyer's post deadline as a Duration.
func (b Buyer) PostTimeout() time.Duration {
	return time.Duration(b.PostTimeoutMs) * time.Millisecond
}

// ServiceConfig is keyed by (buyerId, serviceTypeId); read-only to the core.
type ServiceConfig struct {
	BuyerID             uuid.UUID
	ServiceTypeID       uuid.UUID
	PingTemplate        mapping.FieldMapping
	PostTemplate        mapping.FieldMapping
	MinBid              money.Money
	MaxBid              money.Money
	Priority            int // 1..10, accepted but not used for ranking (see design notes)
	RequiresTrustedForm bool
	RequiresJornaya     bool
	Active              bool
}

// ZipCode is keyed by (buyerId, serviceTypeId, zipCode) -- unique.
type ZipCode struct {
	BuyerID       uuid.UUID
	ServiceTypeID uuid.UUID
	ZipCode       string
	Active        bool
	Priority      int // 1..1000, higher = sooner; the ranking priority
	MaxLeadsPerDay *int
	MinBid        *money.Money // per-zip override
	MaxBid        *money.Money // per-zip override
}

// EffectiveRange resolves zipRow.minBid/maxBid if set, else configRow's.
func EffectiveRange(zip ZipCode, cfg ServiceConfig) (min, max money.Money) {
	min = cfg.MinBid
	if zip.MinBid != nil {
		min = *zip.MinBid
	}
	max = cfg.MaxBid
	if zip.MaxBid != nil {
		max = *zip.MaxBid
	}
	return min, max
}
