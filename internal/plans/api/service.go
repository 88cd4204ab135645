package api

import (
	"github.com/aevon-lab/project-carryover/internal/plans"
	"github.com/gin-gonic/gin"
)

// Service provides the plan, mapping and resource type API.
type Service struct {
	registry *plans.Registry
}

// NewService creates a new plans API service.
func NewService(reg *plans.Registry) *Service {
	return &Service{registry: reg}
}

// RegisterRoutes registers the plans API routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	handler := NewHandler(s.registry)

	r.POST("/v1/metering/plans", planCreator(s.registry.Metering, func(p plans.MeteringPlan) string { return p.PlanID }))
	r.GET("/v1/metering/plans/:plan_id", planGetter(s.registry.Metering))
	r.POST("/v1/rating/plans", planCreator(s.registry.Rating, func(p plans.RatingPlan) string { return p.PlanID }))
	r.GET("/v1/rating/plans/:plan_id", planGetter(s.registry.Rating))
	r.POST("/v1/pricing/plans", planCreator(s.registry.Pricing, func(p plans.PricingPlan) string { return p.PlanID }))
	r.GET("/v1/pricing/plans/:plan_id", planGetter(s.registry.Pricing))

	mappings := r.Group("/v1/provisioning/mappings/:kind/resources/:resource_type/plans")
	{
		mappings.POST("/:plan_name/:plan_id", handler.HandleCreateMapping)
		mappings.GET("/:plan_name", handler.HandleGetMapping)
	}

	r.GET("/v1/provisioning/resources/:resource_id/type", handler.HandleGetResourceType)
}
