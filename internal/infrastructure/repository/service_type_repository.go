package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/leadworks/auction-broker/internal/domain/auction"
)

// ServiceTypeRepository is read-mostly; ServiceType rows are managed by
// admin flows outside this module.
type ServiceTypeRepository struct {
	db querier
}

func NewServiceTypeRepository(db querier) *ServiceTypeRepository {
	return &ServiceTypeRepository{db: db}
}

func (r *ServiceTypeRepository) GetByID(ctx context.Context, id uuid.UUID) (*auction.ServiceType, error) {
	var st auction.ServiceType
	err := r.db.QueryRow(ctx, `
		SELECT id, name, display_name, form_schema, active FROM service_types WHERE id = $1
	`, id).Scan(&st.ID, &st.Name, &st.DisplayName, &st.FormSchema, &st.Active)
	if err != nil {
		return nil, Classify(err)
	}
	return &st, nil
}

func (r *ServiceTypeRepository) GetByName(ctx context.Context, name string) (*auction.ServiceType, error) {
	var st auction.ServiceType
	err := r.db.QueryRow(ctx, `
		SELECT id, name, display_name, form_schema, active FROM service_types WHERE name = $1
	`, name).Scan(&st.ID, &st.Name, &st.DisplayName, &st.FormSchema, &st.Active)
	if err != nil {
		return nil, Classify(err)
	}
	return &st, nil
}
