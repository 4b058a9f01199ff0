package usecase

import (
	"context"

	"novacv/internal/domain/model"
)

// Compile-time check
var _ PlanUseCase = (*planUC)(nil)

type PlanUseCase interface {
	List(ctx context.Context) []*model.PlanDefinition
	Get(ctx context.Context, id model.PlanID) (*model.PlanDefinition, error)
}

type planUC struct {
	plans PlanCatalog
}

func NewPlanUseCase(plans PlanCatalog) *planUC {
	return &planUC{plans: plans}
}

func (u *planUC) List(ctx context.Context) []*model.PlanDefinition {
	return u.plans.List()
}

func (u *planUC) Get(ctx context.Context, id model.PlanID) (*model.PlanDefinition, error) {
	return u.plans.Get(id)
}
