package auction

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/openadx/adexchange/internal/domain"
)

// Router runs one opportunity against every registered coordinator
// concurrently and selects the single best cleared result across them.
// Coordinators enforce their own deadlines, so the router waits for all of
// them rather than racing the deadline a second time.
type Router struct {
	logger *slog.Logger

	mu           sync.RWMutex
	coordinators []*Coordinator
}

// NewRouter creates an empty Router.
func NewRouter(logger *slog.Logger) *Router {
	return &Router{logger: logger.With(slog.String("component", "router"))}
}

// RegisterCoordinator adds a coordinator. Registration order is the
// tie-break order for equal cleared prices. It returns
// domain.ErrAlreadyExists for a duplicate coordinator id.
func (r *Router) RegisterCoordinator(c *Coordinator) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.coordinators {
		if existing.ID() == c.ID() {
			return domain.ErrAlreadyExists
		}
	}
	r.coordinators = append(r.coordinators, c)
	return nil
}

// Coordinator returns the registered coordinator with the given id.
func (r *Router) Coordinator(id string) (*Coordinator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.coordinators {
		if c.ID() == id {
			return c, nil
		}
	}
	return nil, domain.ErrUnknownCoordinator
}

// Coordinators returns the registered coordinators in registration order.
func (r *Router) Coordinators() []*Coordinator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Coordinator, len(r.coordinators))
	copy(out, r.coordinators)
	return out
}

// RequestBid dispatches the opportunity to every coordinator in parallel,
// waits for all of them, and returns the cleared auction with the globally
// maximum clearing price. ok=false means no coordinator filled.
func (r *Router) RequestBid(ctx context.Context, opp domain.Opportunity, userSegments []string) (domain.ClearedAuction, bool, error) {
	coordinators := r.Coordinators()
	if len(coordinators) == 0 {
		return domain.ClearedAuction{}, false, nil
	}

	type routed struct {
		rec domain.ClearedAuction
		ok  bool
	}
	results := make([]routed, len(coordinators))

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range coordinators {
		g.Go(func() error {
			rec, ok, err := c.RunAuction(gctx, opp, userSegments)
			if err != nil {
				return err
			}
			results[i] = routed{rec: rec, ok: ok}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// A failed coordinator aborts the whole request. Coordinators that
		// already cleared never serve their winners, so those charges go
		// back too.
		for i, res := range results {
			if res.ok {
				coordinators[i].rescindCharge(res.rec)
			}
		}
		return domain.ClearedAuction{}, false, fmt.Errorf("auction: route %s: %w", opp.ID, err)
	}

	best := -1
	for i, res := range results {
		if !res.ok {
			continue
		}
		// Strict greater-than keeps the earliest registered coordinator on
		// equal clearing prices.
		if best < 0 || res.rec.ClearingPrice > results[best].rec.ClearingPrice {
			best = i
		}
	}
	if best < 0 {
		r.logger.Debug("no fill across coordinators",
			slog.String("opportunity_id", opp.ID),
			slog.Int("coordinators", len(coordinators)),
		)
		return domain.ClearedAuction{}, false, nil
	}

	// Coordinators that cleared but were not routed keep their audit
	// records, but their winners are never charged: only one impression
	// actually serves.
	for i, res := range results {
		if res.ok && i != best {
			coordinators[i].rescindCharge(res.rec)
		}
	}

	return results[best].rec, true, nil
}
