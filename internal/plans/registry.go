package plans

import (
	"context"
	"fmt"
	"time"

	"github.com/aevon-lab/project-carryover/internal/core/storage"
)

// CacheOptions sizes every resolver cache.
type CacheOptions struct {
	Capacity int
	TTL      time.Duration
}

// Registry holds one resolver per plan family plus mappings and resource types.
type Registry struct {
	Metering      *Resolver[MeteringPlan]
	Rating        *Resolver[RatingPlan]
	Pricing       *Resolver[PricingPlan]
	Mappings      *Resolver[PlanMapping]
	ResourceTypes *Resolver[ResourceType]

	defaults []PlanMapping
}

// NewRegistry loads the static bundle and builds the resolvers over store.
func NewRegistry(store storage.DocumentStore, opts CacheOptions) (*Registry, error) {
	v := NewValidator()

	metering, err := loadBundle(bundleMeteringPlans, KindMeteringPlan, v, func(p MeteringPlan) string { return p.PlanID })
	if err != nil {
		return nil, err
	}
	rating, err := loadBundle(bundleRatingPlans, KindRatingPlan, v, func(p RatingPlan) string { return p.PlanID })
	if err != nil {
		return nil, err
	}
	pricing, err := loadBundle(bundlePricingPlans, KindPricingPlan, v, func(p PricingPlan) string { return p.PlanID })
	if err != nil {
		return nil, err
	}
	resourceTypes, err := loadBundle(bundleResourceTypes, KindResourceType, v, func(t ResourceType) string { return t.ResourceID })
	if err != nil {
		return nil, err
	}
	defaults, err := loadBundleList[PlanMapping](bundleDefaultMappings, KindPlanMapping, v)
	if err != nil {
		return nil, err
	}

	return &Registry{
		Metering:      NewResolver(KindMeteringPlan, store, NewLRUCache[MeteringPlan](opts.Capacity, opts.TTL), metering, v),
		Rating:        NewResolver(KindRatingPlan, store, NewLRUCache[RatingPlan](opts.Capacity, opts.TTL), rating, v),
		Pricing:       NewResolver(KindPricingPlan, store, NewLRUCache[PricingPlan](opts.Capacity, opts.TTL), pricing, v),
		Mappings:      NewResolver[PlanMapping](KindPlanMapping, store, NewLRUCache[PlanMapping](opts.Capacity, opts.TTL), nil, v),
		ResourceTypes: NewResolver(KindResourceType, store, NewLRUCache[ResourceType](opts.Capacity, opts.TTL), resourceTypes, v),
		defaults:      defaults,
	}, nil
}

// Mapping resolves (kind, resource type, plan name) to a plan id.
func (r *Registry) Mapping(ctx context.Context, kind MappingKind, resourceType, planName string) (string, error) {
	m, ok, err := r.Mappings.Resolve(ctx, MappingKey(kind, resourceType, planName))
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%s mapping %s/%s: %w", kind, resourceType, planName, ErrNotFound)
	}
	return m.PlanID, nil
}

// CreateMapping stores a mapping. The write validates against the mapping schema only.
func (r *Registry) CreateMapping(ctx context.Context, kind MappingKind, resourceType, planName, planID string) error {
	m := PlanMapping{Kind: kind, ResourceType: resourceType, PlanName: planName, PlanID: planID}
	return r.Mappings.Create(ctx, m.Key(), m)
}

// ResourceType resolves a resource id to its resource type.
func (r *Registry) ResourceType(ctx context.Context, resourceID string) (string, error) {
	t, ok, err := r.ResourceTypes.Resolve(ctx, resourceID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("resource type for %s: %w", resourceID, ErrNotFound)
	}
	return t.ResourceType, nil
}
