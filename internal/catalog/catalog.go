// Package catalog implements the inventory-catalog collaborator: a registry
// of publisher placements and the floor-price policy applied when an
// opportunity is built.
package catalog

import (
	"fmt"
	"sort"
	"sync"

	"github.com/openadx/adexchange/internal/domain"
)

// FloorAdjuster derives the effective floor for an impression from the
// placement's base floor. It must never adjust downward.
type FloorAdjuster interface {
	EffectiveFloor(p domain.Placement, imp domain.ImpressionContext) float64
}

// BaseFloor is the default policy: the effective floor equals the
// placement's base floor.
type BaseFloor struct{}

// EffectiveFloor implements FloorAdjuster.
func (BaseFloor) EffectiveFloor(p domain.Placement, _ domain.ImpressionContext) float64 {
	return p.FloorPrice
}

// Catalog is an in-memory placement registry.
type Catalog struct {
	adjuster FloorAdjuster

	mu         sync.RWMutex
	placements map[string]domain.Placement
}

// New creates a Catalog. A nil adjuster defaults to BaseFloor.
func New(adjuster FloorAdjuster) *Catalog {
	if adjuster == nil {
		adjuster = BaseFloor{}
	}
	return &Catalog{
		adjuster:   adjuster,
		placements: make(map[string]domain.Placement),
	}
}

// RegisterPlacement adds or replaces a placement.
func (c *Catalog) RegisterPlacement(p domain.Placement) error {
	if p.ID == "" {
		return fmt.Errorf("catalog: placement id is required")
	}
	if p.FloorPrice < 0 {
		return fmt.Errorf("catalog: placement %s: negative floor price", p.ID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.placements[p.ID] = p
	return nil
}

// Placement resolves a placement by id. An unregistered id is
// domain.ErrUnknownPlacement, fatal for the bid request that carried it.
func (c *Catalog) Placement(id string) (domain.Placement, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.placements[id]
	if !ok {
		return domain.Placement{}, fmt.Errorf("catalog: placement %s: %w", id, domain.ErrUnknownPlacement)
	}
	return p, nil
}

// EffectiveFloor applies the catalog's floor policy for the impression.
func (c *Catalog) EffectiveFloor(p domain.Placement, imp domain.ImpressionContext) float64 {
	floor := c.adjuster.EffectiveFloor(p, imp)
	if floor < p.FloorPrice {
		return p.FloorPrice
	}
	return floor
}

// List returns all placements sorted by id.
func (c *Catalog) List() []domain.Placement {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Placement, 0, len(c.placements))
	for _, p := range c.placements {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
