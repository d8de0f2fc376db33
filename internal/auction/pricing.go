package auction

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"github.com/openadx/adexchange/internal/domain"
)

// PricingStrategy computes a bidder's price for a creative on an
// opportunity. Implementations must return a non-negative price and be safe
// for concurrent use. Strategies are injectable so auctions stay
// reproducible in tests; randomness belongs behind an explicit seed.
type PricingStrategy interface {
	Name() string
	Price(opp domain.Opportunity, c domain.Creative) float64
}

// FloorMultiplier bids the effective floor scaled by a fixed multiplier.
// Deterministic; the default strategy for tests and simulations.
type FloorMultiplier struct {
	Multiplier float64
}

// Name implements PricingStrategy.
func (s FloorMultiplier) Name() string { return "floor_multiplier" }

// Price implements PricingStrategy.
func (s FloorMultiplier) Price(opp domain.Opportunity, _ domain.Creative) float64 {
	p := opp.FloorPrice * s.Multiplier
	if p < 0 {
		return 0
	}
	return p
}

// SeededRandom bids uniformly between 1x and 2x the effective floor, driven
// by an explicitly seeded generator. Used for simulation runs only.
type SeededRandom struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSeededRandom creates a SeededRandom strategy from the given seed.
func NewSeededRandom(seed int64) *SeededRandom {
	return &SeededRandom{rng: rand.New(rand.NewSource(seed))}
}

// Name implements PricingStrategy.
func (s *SeededRandom) Name() string { return "seeded_random" }

// Price implements PricingStrategy.
func (s *SeededRandom) Price(opp domain.Opportunity, _ domain.Creative) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return opp.FloorPrice * (1 + s.rng.Float64())
}

// PricingRegistry holds named pricing strategies for selection by config.
type PricingRegistry struct {
	mu         sync.RWMutex
	strategies map[string]PricingStrategy
}

// NewPricingRegistry returns an empty registry. Call Register to add
// strategies.
func NewPricingRegistry() *PricingRegistry {
	return &PricingRegistry{strategies: make(map[string]PricingStrategy)}
}

// Register adds a strategy under the given name.
func (r *PricingRegistry) Register(name string, s PricingStrategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[name] = s
}

// Get returns the strategy by name, or an error if not found.
func (r *PricingRegistry) Get(name string) (PricingStrategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[name]
	if !ok {
		return nil, fmt.Errorf("pricing strategy %q not found", name)
	}
	return s, nil
}

// List returns all registered strategy names, sorted.
func (r *PricingRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.strategies))
	for n := range r.strategies {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
