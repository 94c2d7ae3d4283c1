package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/leadworks/auction-broker/internal/domain/buyer"
	"github.com/leadworks/auction-broker/internal/domain/mapping"
	"github.com/leadworks/auction-broker/internal/domain/money"
)

// BuyerRepository is read-only to the core; Buyer rows are mutated only by
// admin flows outside this module.
type BuyerRepository struct {
	db querier
}

func NewBuyerRepository(db querier) *BuyerRepository {
	return &BuyerRepository{db: db}
}

func (r *BuyerRepository) GetByID(ctx context.Context, id uuid.UUID) (*buyer.Buyer, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, type, api_url, auth_config, ping_timeout_ms, post_timeout_ms,
			active, compliance_field_mappings, webhook_secret, created_at, updated_at
		FROM buyers WHERE id = $1
	`, id)
	return scanBuyer(row)
}

func (r *BuyerRepository) GetByName(ctx context.Context, name string) (*buyer.Buyer, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, type, api_url, auth_config, ping_timeout_ms, post_timeout_ms,
			active, compliance_field_mappings, webhook_secret, created_at, updated_at
		FROM buyers WHERE name = $1
	`, name)
	return scanBuyer(row)
}

func scanBuyer(row rowScanner) (*buyer.Buyer, error) {
	var (
		b                   buyer.Buyer
		authRaw             []byte
		complianceAliasRaw  []byte
	)
	err := row.Scan(
		&b.ID, &b.Name, &b.Type, &b.APIURL, &authRaw, &b.PingTimeoutMs, &b.PostTimeoutMs,
		&b.Active, &complianceAliasRaw, &b.WebhookSecret, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, Classify(err)
	}
	if err := json.Unmarshal(authRaw, &b.Auth); err != nil {
		return nil, Classify(err)
	}
	if len(complianceAliasRaw) > 0 {
		if err := json.Unmarshal(complianceAliasRaw, &b.ComplianceFieldMappings); err != nil {
			return nil, Classify(err)
		}
	}
	return &b, nil
}

// ServiceConfigRepository is read-only; BuyerServiceConfig is mutated only
// by admin flows outside this module.
type ServiceConfigRepository struct {
	db querier
}

func NewServiceConfigRepository(db querier) *ServiceConfigRepository {
	return &ServiceConfigRepository{db: db}
}

func (r *ServiceConfigRepository) Get(ctx context.Context, buyerID, serviceTypeID uuid.UUID) (*buyer.ServiceConfig, error) {
	row := r.db.QueryRow(ctx, `
		SELECT buyer_id, service_type_id, ping_template, post_template, min_bid, max_bid,
			priority, requires_trusted_form, requires_jornaya, active
		FROM buyer_service_configs WHERE buyer_id = $1 AND service_type_id = $2
	`, buyerID, serviceTypeID)
	return scanServiceConfig(row)
}

func scanServiceConfig(row rowScanner) (*buyer.ServiceConfig, error) {
	var (
		cfg          buyer.ServiceConfig
		pingTplRaw   []byte
		postTplRaw   []byte
		minBidStr    string
		maxBidStr    string
	)
	err := row.Scan(
		&cfg.BuyerID, &cfg.ServiceTypeID, &pingTplRaw, &postTplRaw, &minBidStr, &maxBidStr,
		&cfg.Priority, &cfg.RequiresTrustedForm, &cfg.RequiresJornaya, &cfg.Active,
	)
	if err != nil {
		return nil, Classify(err)
	}
	if cfg.PingTemplate, err = unmarshalFieldMapping(pingTplRaw); err != nil {
		return nil, Classify(err)
	}
	if cfg.PostTemplate, err = unmarshalFieldMapping(postTplRaw); err != nil {
		return nil, Classify(err)
	}
	if cfg.MinBid, err = money.FromAny(minBidStr); err != nil {
		return nil, Classify(err)
	}
	if cfg.MaxBid, err = money.FromAny(maxBidStr); err != nil {
		return nil, Classify(err)
	}
	return &cfg, nil
}

// ZipCodeRepository is read-only; BuyerServiceZipCode is mutated only by
// admin flows outside this module.
type ZipCodeRepository struct {
	db querier
}

func NewZipCodeRepository(db querier) *ZipCodeRepository {
	return &ZipCodeRepository{db: db}
}

// ListEligible runs the join at the heart of the Eligibility Index: every
// active (buyerId, serviceTypeId, zipCode) row together with its active
// Buyer and active ServiceConfig.
func (r *ZipCodeRepository) ListEligible(ctx context.Context, serviceTypeID uuid.UUID, zipCode string) ([]EligibilityRow, error) {
	rows, err := r.db.Query(ctx, `
		SELECT
			z.buyer_id, z.service_type_id, z.zip_code, z.priority, z.max_leads_per_day, z.min_bid, z.max_bid,
			b.name, b.api_url, b.auth_config, b.ping_timeout_ms, b.post_timeout_ms, b.compliance_field_mappings, b.webhook_secret,
			c.ping_template, c.post_template, c.min_bid, c.max_bid, c.priority, c.requires_trusted_form, c.requires_jornaya
		FROM buyer_service_zip_codes z
		JOIN buyers b ON b.id = z.buyer_id AND b.active = true
		JOIN buyer_service_configs c ON c.buyer_id = z.buyer_id AND c.service_type_id = z.service_type_id AND c.active = true
		WHERE z.service_type_id = $1 AND z.zip_code = $2 AND z.active = true
	`, serviceTypeID, zipCode)
	if err != nil {
		return nil, Classify(err)
	}
	defer rows.Close()

	var out []EligibilityRow
	for rows.Next() {
		var (
			row                       EligibilityRow
			zipMinBid, zipMaxBid      *string
			cfgMinBid, cfgMaxBid      string
			authRaw, complianceRaw    []byte
			pingTplRaw, postTplRaw    []byte
		)
		if err := rows.Scan(
			&row.BuyerID, &row.ServiceTypeID, &row.ZipCode, &row.ZipPriority, &row.MaxLeadsPerDay, &zipMinBid, &zipMaxBid,
			&row.BuyerName, &row.APIURL, &authRaw, &row.PingTimeoutMs, &row.PostTimeoutMs, &complianceRaw, &row.WebhookSecret,
			&pingTplRaw, &postTplRaw, &cfgMinBid, &cfgMaxBid, &row.ConfigPriority, &row.RequiresTrustedForm, &row.RequiresJornaya,
		); err != nil {
			return nil, Classify(err)
		}

		if err := json.Unmarshal(authRaw, &row.Auth); err != nil {
			return nil, Classify(err)
		}
		if len(complianceRaw) > 0 {
			if err := json.Unmarshal(complianceRaw, &row.ComplianceFieldMappings); err != nil {
				return nil, Classify(err)
			}
		}
		if row.PingTemplate, err = unmarshalFieldMapping(pingTplRaw); err != nil {
			return nil, Classify(err)
		}
		if row.PostTemplate, err = unmarshalFieldMapping(postTplRaw); err != nil {
			return nil, Classify(err)
		}

		row.ConfigMinBid, err = money.FromAny(cfgMinBid)
		if err != nil {
			return nil, Classify(err)
		}
		row.ConfigMaxBid, err = money.FromAny(cfgMaxBid)
		if err != nil {
			return nil, Classify(err)
		}
		if zipMinBid != nil {
			m, err := money.FromAny(*zipMinBid)
			if err != nil {
				return nil, Classify(err)
			}
			row.ZipMinBid = &m
		}
		if zipMaxBid != nil {
			m, err := money.FromAny(*zipMaxBid)
			if err != nil {
				return nil, Classify(err)
			}
			row.ZipMaxBid = &m
		}

		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, Classify(err)
	}
	return out, nil
}

// EligibilityRow is the flat join result the Eligibility Index consumes to
// build RankedBuyer values.
type EligibilityRow struct {
	BuyerID       uuid.UUID
	ServiceTypeID uuid.UUID
	ZipCode       string
	ZipPriority   int
	MaxLeadsPerDay *int
	ZipMinBid     *money.Money
	ZipMaxBid     *money.Money

	BuyerName               string
	APIURL                  string
	Auth                    buyer.AuthConfig
	PingTimeoutMs           int
	PostTimeoutMs           int
	ComplianceFieldMappings []mapping.ComplianceAlias
	WebhookSecret           string

	PingTemplate        mapping.FieldMapping
	PostTemplate        mapping.FieldMapping
	ConfigMinBid        money.Money
	ConfigMaxBid        money.Money
	// ConfigPriority is scanned from buyer_service_configs.priority but
	// never applied to ranking -- the zip row's priority always wins, so
	// callers discard it explicitly rather than reading it.
	ConfigPriority      int
	RequiresTrustedForm bool
	RequiresJornaya     bool
}

type fieldMappingDTO struct {
	SourcePath  string  `json:"sourcePath"`
	TargetPath  string  `json:"targetPath"`
	TransformID string  `json:"transformId,omitempty"`
	Default     *string `json:"default,omitempty"`
}

func unmarshalFieldMapping(raw []byte) (mapping.FieldMapping, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var dtos []fieldMappingDTO
	if err := json.Unmarshal(raw, &dtos); err != nil {
		return nil, err
	}
	fm := make(mapping.FieldMapping, 0, len(dtos))
	for _, d := range dtos {
		entry := mapping.Entry{SourcePath: d.SourcePath, TargetPath: d.TargetPath, TransformID: d.TransformID}
		if d.Default != nil {
			v := mapping.NewStr(*d.Default)
			entry.Default = &v
		}
		fm = append(fm, entry)
	}
	return fm, nil
}
