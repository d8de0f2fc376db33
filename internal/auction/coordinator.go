package auction

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/openadx/adexchange/internal/domain"
)

// Coordinator runs one auction per opportunity: it fans the opportunity out
// to every registered bidder agent, collects the offers that arrive before
// the deadline, validates them at the trust boundary, clears by its auction
// type, and appends an audit record. Each run moves through
// dispatched → collecting → cleared|nofill.
type Coordinator struct {
	id          string
	auctionType domain.AuctionType
	ledger      *BudgetLedger
	log         *AuditLog
	logger      *slog.Logger

	mu       sync.RWMutex
	agents   []domain.BidderAgent
	regOrder map[string]int
}

// NewCoordinator creates a Coordinator clearing by the given auction type.
func NewCoordinator(id string, typ domain.AuctionType, ledger *BudgetLedger, logger *slog.Logger) (*Coordinator, error) {
	if !typ.Valid() {
		return nil, fmt.Errorf("auction: coordinator %s: unknown auction type %q", id, typ)
	}
	return &Coordinator{
		id:          id,
		auctionType: typ,
		ledger:      ledger,
		log:         NewAuditLog(),
		logger:      logger.With(slog.String("component", "coordinator"), slog.String("coordinator_id", id)),
		regOrder:    make(map[string]int),
	}, nil
}

// ID returns the coordinator id.
func (c *Coordinator) ID() string { return c.id }

// Type returns the coordinator's clearing rule.
func (c *Coordinator) Type() domain.AuctionType { return c.auctionType }

// RegisterAgent adds a bidder agent. Registration order is the tie-break
// order for clearing. It returns domain.ErrAlreadyExists for a duplicate id.
func (c *Coordinator) RegisterAgent(a domain.BidderAgent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.regOrder[a.ID()]; ok {
		return domain.ErrAlreadyExists
	}
	c.regOrder[a.ID()] = len(c.agents)
	c.agents = append(c.agents, a)
	return nil
}

// Agents returns the ids of registered agents in registration order.
func (c *Coordinator) Agents() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, len(c.agents))
	for i, a := range c.agents {
		ids[i] = a.ID()
	}
	return ids
}

// rescindCharge returns a cleared winner's charge to its budget. Used by the
// router when another coordinator's result is routed instead.
func (c *Coordinator) rescindCharge(rec domain.ClearedAuction) {
	c.ledger.Release(rec.Winner.BidderID, rec.ClearingPrice)
}

// Record returns this coordinator's audit record for the opportunity id.
func (c *Coordinator) Record(opportunityID string) (domain.ClearedAuction, bool) {
	return c.log.Get(opportunityID)
}

// agentResult carries one agent's answer back to the collector.
type agentResult struct {
	bidderID string
	offer    domain.Offer
	ok       bool
	err      error
}

// RunAuction executes the auction for one opportunity. It returns ok=false
// for a no-fill. The only error conditions are a duplicate opportunity id
// and a cancelled parent context; a slow, failing, or panicking agent is a
// decline for that agent alone.
func (c *Coordinator) RunAuction(ctx context.Context, opp domain.Opportunity, userSegments []string) (domain.ClearedAuction, bool, error) {
	c.mu.RLock()
	agents := make([]domain.BidderAgent, len(c.agents))
	copy(agents, c.agents)
	regOrder := make(map[string]int, len(c.regOrder))
	for id, i := range c.regOrder {
		regOrder[id] = i
	}
	c.mu.RUnlock()

	c.logger.Debug("auction dispatched",
		slog.String("opportunity_id", opp.ID),
		slog.Int("agents", len(agents)),
		slog.Time("deadline", opp.Deadline),
	)

	dctx, cancel := context.WithDeadline(ctx, opp.Deadline)
	defer cancel()

	resCh := make(chan agentResult, len(agents))
	for _, a := range agents {
		go solicit(dctx, a, opp, userSegments, resCh)
	}

	offers, received := c.collect(dctx, opp, resCh, len(agents))
	if received < len(agents) {
		// Abandon the stragglers: their eventual results are drained in the
		// background and any reservation they made is returned.
		go c.reapLate(opp, resCh, len(agents)-received)
	}
	if err := ctx.Err(); err != nil {
		// The auction is abandoned: nothing serves, so every collected
		// offer's reservation goes back.
		for _, o := range offers {
			c.ledger.Release(o.BidderID, o.Price)
		}
		return domain.ClearedAuction{}, false, fmt.Errorf("auction: coordinator %s: %w", c.id, err)
	}

	admissible := c.validate(opp, offers)
	if len(admissible) == 0 {
		c.logger.Debug("auction no-fill", slog.String("opportunity_id", opp.ID))
		return domain.ClearedAuction{}, false, nil
	}

	winner, clearingPrice, _ := clear(admissible, c.auctionType, regOrder)
	c.settle(winner, clearingPrice, admissible)

	rec := domain.ClearedAuction{
		OpportunityID: opp.ID,
		CoordinatorID: c.id,
		AuctionType:   c.auctionType,
		Timestamp:     time.Now().UTC(),
		Winner:        winner,
		ClearingPrice: clearingPrice,
		Offers:        admissible,
		FloorPrice:    opp.FloorPrice,
	}
	if err := c.log.Append(rec); err != nil {
		// A rejected record means no impression serves; undo the charge.
		c.ledger.Release(winner.BidderID, clearingPrice)
		return domain.ClearedAuction{}, false, fmt.Errorf("auction: coordinator %s: record %s: %w", c.id, opp.ID, err)
	}

	c.logger.Info("auction cleared",
		slog.String("opportunity_id", opp.ID),
		slog.String("winner", winner.BidderID),
		slog.Float64("clearing_price", clearingPrice),
		slog.Int("offers", len(admissible)),
	)
	return rec, true, nil
}

// solicit asks one agent to decide, isolating panics so one misbehaving
// bidder never aborts the auction for the others.
func solicit(ctx context.Context, a domain.BidderAgent, opp domain.Opportunity, userSegments []string, resCh chan<- agentResult) {
	res := agentResult{bidderID: a.ID()}
	defer func() {
		if p := recover(); p != nil {
			res = agentResult{bidderID: a.ID(), err: fmt.Errorf("bidder agent panic: %v", p)}
		}
		resCh <- res
	}()
	offer, ok, err := a.Decide(ctx, opp, userSegments)
	res = agentResult{bidderID: a.ID(), offer: offer, ok: ok, err: err}
}

// collect gathers agent results until all have answered or the deadline
// fires. Results arriving after the deadline are never awaited.
func (c *Coordinator) collect(dctx context.Context, opp domain.Opportunity, resCh <-chan agentResult, n int) ([]domain.Offer, int) {
	var offers []domain.Offer
	received := 0
	for received < n {
		select {
		case r := <-resCh:
			received++
			switch {
			case r.err != nil:
				c.logger.Warn("bidder agent failed, treating as decline",
					slog.String("opportunity_id", opp.ID),
					slog.String("bidder_id", r.bidderID),
					slog.String("error", r.err.Error()),
				)
			case r.ok:
				offers = append(offers, r.offer)
			}
		case <-dctx.Done():
			return offers, received
		}
	}
	return offers, received
}

// reapLate drains the remaining agent results after the deadline and
// releases any reservation a late offer carries, so a timed-out bidder
// never leaks budget.
func (c *Coordinator) reapLate(opp domain.Opportunity, resCh <-chan agentResult, n int) {
	for i := 0; i < n; i++ {
		r := <-resCh
		if r.ok {
			c.ledger.Release(r.bidderID, r.offer.Price)
		}
		c.logger.Debug("late bidder response discarded",
			slog.String("opportunity_id", opp.ID),
			slog.String("bidder_id", r.bidderID),
		)
	}
}

// validate is the trust boundary: offers below the floor or violating the
// placement's brand-safety exclusions are dropped and their reservations
// released. Agents should never produce them; a drop is a bidder-quality
// signal, not an error.
func (c *Coordinator) validate(opp domain.Opportunity, offers []domain.Offer) []domain.Offer {
	admissible := offers[:0]
	for _, o := range offers {
		switch {
		case o.Price < opp.FloorPrice:
			c.ledger.Release(o.BidderID, o.Price)
			c.logger.Warn("malformed offer dropped: below floor",
				slog.String("opportunity_id", opp.ID),
				slog.String("bidder_id", o.BidderID),
				slog.Float64("price", o.Price),
				slog.Float64("floor", opp.FloorPrice),
			)
		case !safetyMatch(o.Creative, opp.Placement):
			c.ledger.Release(o.BidderID, o.Price)
			c.logger.Warn("malformed offer dropped: brand safety violation",
				slog.String("opportunity_id", opp.ID),
				slog.String("bidder_id", o.BidderID),
				slog.String("creative_id", o.Creative.ID),
			)
		default:
			admissible = append(admissible, o)
		}
	}
	return admissible
}

// settle releases the losing offers' reservations in full and trims the
// winner's reservation down to the clearing price, so budget is only
// permanently consumed by what the winner is actually charged.
func (c *Coordinator) settle(winner domain.Offer, clearingPrice float64, admissible []domain.Offer) {
	for _, o := range admissible {
		if o.BidderID == winner.BidderID && o.Price == winner.Price {
			if diff := o.Price - clearingPrice; diff > 0 {
				c.ledger.Release(o.BidderID, diff)
			}
			continue
		}
		c.ledger.Release(o.BidderID, o.Price)
	}
}
