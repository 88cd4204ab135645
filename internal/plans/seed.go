package plans

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// SeedDefaultMappings stores every default mapping that does not resolve yet.
// Kinds are seeded concurrently, entries within a kind in order. Running it again is a no-op.
func (r *Registry) SeedDefaultMappings(ctx context.Context) error {
	byKind := make(map[MappingKind][]PlanMapping, len(MappingKinds))
	for _, m := range r.defaults {
		byKind[m.Kind] = append(byKind[m.Kind], m)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range MappingKinds {
		mappings := byKind[kind]
		if len(mappings) == 0 {
			continue
		}
		g.Go(func() error {
			created, err := r.seedKind(gctx, mappings)
			if err != nil {
				return fmt.Errorf("seeding %s mappings: %w", kind, err)
			}
			slog.Info("[Resolver] Default mappings seeded", "kind", kind, "created", created, "total", len(mappings))
			return nil
		})
	}
	return g.Wait()
}

func (r *Registry) seedKind(ctx context.Context, mappings []PlanMapping) (int, error) {
	created := 0
	for _, m := range mappings {
		_, ok, err := r.Mappings.Resolve(ctx, m.Key())
		if err != nil {
			return created, err
		}
		if ok {
			continue
		}
		if err := r.Mappings.Create(ctx, m.Key(), m); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}
