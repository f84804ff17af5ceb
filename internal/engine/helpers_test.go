package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/csc13008-assignments/csc13008-jewelbid-sub000/internal/database"
	"github.com/csc13008-assignments/csc13008-jewelbid-sub000/pkg/types"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const seller = "seller"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recorder struct {
	mu     sync.Mutex
	events []types.Event
}

func (r *recorder) Publish(events ...types.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
}

func (r *recorder) all() []types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.Event(nil), r.events...)
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// kinds lists the kinds each recipient received, in publish order.
func (r *recorder) kinds() map[string][]types.EventKind {
	out := make(map[string][]types.EventKind)
	for _, e := range r.all() {
		out[e.RecipientID] = append(out[e.RecipientID], e.Kind)
	}
	return out
}

func (r *recorder) count(kind types.EventKind) int {
	n := 0
	for _, e := range r.all() {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

type harness struct {
	engine *Engine
	db     database.Service
	clock  *fakeClock
	events *recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := database.NewMemory()
	clock := &fakeClock{now: base}
	events := &recorder{}
	opts := DefaultOptions()
	opts.Clock = clock
	opts.RetryInterval = time.Millisecond
	h := &harness{
		engine: New(db, events, opts),
		db:     db,
		clock:  clock,
		events: events,
	}
	for _, id := range []string{"A", "B", "C", "D", "E"} {
		h.bidder(t, types.Bidder{ID: id, Name: "bidder " + id, Verified: true, PositiveRatings: 10})
	}
	h.bidder(t, types.Bidder{ID: seller, Name: "seller", Verified: true, PositiveRatings: 10})
	return h
}

func (h *harness) bidder(t *testing.T, b types.Bidder) {
	t.Helper()
	require.NoError(t, h.db.SaveBidder(context.Background(), b))
}

func pricePtr(v int64) *int64 { return &v }

// auction seeds an auction: starting 1,000,000, step 100,000, ends in a day.
func (h *harness) auction(t *testing.T, mutate ...func(*types.Auction)) types.Auction {
	t.Helper()
	a := types.Auction{
		SellerID:        seller,
		StartingPrice:   1_000_000,
		StepPrice:       100_000,
		AllowNewBidders: true,
		EndTime:         base.Add(24 * time.Hour),
	}
	for _, m := range mutate {
		m(&a)
	}
	created, err := h.db.CreateAuction(context.Background(), a)
	require.NoError(t, err)
	return created
}

func (h *harness) bid(t *testing.T, auctionID, bidderID string, max int64) types.AuctionView {
	t.Helper()
	view, err := h.engine.SubmitMaxBid(context.Background(), auctionID, bidderID, max)
	require.NoError(t, err)
	return view
}

func (h *harness) ledger(t *testing.T, auctionID string) []types.Bid {
	t.Helper()
	bids, err := h.db.GetBidsByAuctionId(context.Background(), auctionID)
	require.NoError(t, err)
	return bids
}
