package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/csc13008-assignments/csc13008-jewelbid-sub000/internal/database"
	"github.com/csc13008-assignments/csc13008-jewelbid-sub000/pkg/errors"
	"github.com/csc13008-assignments/csc13008-jewelbid-sub000/pkg/types"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireCode(t *testing.T, err error, code int) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, errors.Code(err), "unexpected error: %v", err)
}

func TestSubmitMaxBid_ProxyScenario(t *testing.T) {
	h := newHarness(t)
	a := h.auction(t, func(a *types.Auction) { a.BuyNowPrice = pricePtr(5_000_000) })

	view := h.bid(t, a.ID, "A", 1_500_000)
	assert.Equal(t, "A", view.LeaderID)
	assert.Equal(t, int64(1_000_000), view.CurrentPrice)
	assert.Equal(t, 1, view.BidCount)

	h.events.reset()
	view = h.bid(t, a.ID, "B", 1_300_000)
	assert.Equal(t, "A", view.LeaderID)
	assert.Equal(t, int64(1_400_000), view.CurrentPrice)
	assert.Equal(t, map[string][]types.EventKind{
		"B":    {types.EventOutbid},
		seller: {types.EventNewBidForSeller},
	}, h.events.kinds())

	ledger := h.ledger(t, a.ID)
	require.Len(t, ledger, 2)
	assert.Equal(t, int64(1_400_000), ledger[0].DisplayedAmount, "leader row is raised")
	assert.Equal(t, int64(1_500_000), ledger[0].CommittedMax)
	assert.Equal(t, int64(1_300_000), ledger[1].DisplayedAmount)

	h.events.reset()
	view = h.bid(t, a.ID, "C", 2_000_000)
	assert.Equal(t, "C", view.LeaderID)
	assert.Equal(t, int64(1_600_000), view.CurrentPrice)
	assert.Equal(t, map[string][]types.EventKind{
		"A":    {types.EventOutbid},
		"C":    {types.EventBidAccepted},
		seller: {types.EventNewBidForSeller},
	}, h.events.kinds())

	_, err := h.engine.SubmitMaxBid(context.Background(), a.ID, "D", 2_000_000)
	requireCode(t, err, errors.ErrTiedBidMustBeHigher)

	_, err = h.engine.SubmitMaxBid(context.Background(), a.ID, "D", 5_000_000)
	requireCode(t, err, errors.ErrUseBuyNowInstead)

	view, err = h.engine.Auction(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, "C", view.LeaderID)
	assert.Equal(t, int64(1_600_000), view.CurrentPrice)
	assert.Len(t, h.ledger(t, a.ID), 3, "rejected bids leave no ledger row")

	h.events.reset()
	order, view, err := h.engine.BuyNow(context.Background(), a.ID, "D")
	require.NoError(t, err)
	assert.Equal(t, int64(5_000_000), order.FinalPrice)
	assert.Equal(t, "D", order.BuyerID)
	assert.Equal(t, seller, order.SellerID)
	assert.Equal(t, types.OrderAwaitingPaymentInfo, order.Status)
	assert.Equal(t, types.StatusCompleted, view.Status)
	assert.Equal(t, int64(5_000_000), view.CurrentPrice)
	assert.True(t, view.EndTime.Equal(base))

	kinds := h.events.kinds()
	for _, id := range []string{"D", seller, "A", "B", "C"} {
		assert.Equal(t, []types.EventKind{types.EventBuyNowCompleted}, kinds[id], id)
	}

	_, _, err = h.engine.BuyNow(context.Background(), a.ID, "E")
	requireCode(t, err, errors.ErrAuctionClosed)

	h.clock.Advance(48 * time.Hour)
	done, err := h.engine.Finalize(context.Background(), a.ID)
	require.NoError(t, err)
	assert.False(t, done)

	stored, err := h.db.GetOrderByAuctionId(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, stored.ID)
}

func TestSubmitMaxBid_MinimumBid(t *testing.T) {
	h := newHarness(t)
	a := h.auction(t)

	_, err := h.engine.SubmitMaxBid(context.Background(), a.ID, "A", 999_999)
	requireCode(t, err, errors.ErrBidTooLow)

	_, err = h.engine.SubmitMaxBid(context.Background(), a.ID, "A", 0)
	requireCode(t, err, errors.ErrInvalidAmount)

	h.bid(t, a.ID, "A", 1_000_000)

	_, err = h.engine.SubmitMaxBid(context.Background(), a.ID, "B", 1_050_000)
	requireCode(t, err, errors.ErrBidTooLow)

	view := h.bid(t, a.ID, "B", 1_100_000)
	assert.Equal(t, "B", view.LeaderID)
	assert.Equal(t, int64(1_100_000), view.CurrentPrice)
}

func TestSubmitMaxBid_LeaderRaisesOwnCeiling(t *testing.T) {
	h := newHarness(t)
	a := h.auction(t)
	h.bid(t, a.ID, "A", 1_500_000)
	h.bid(t, a.ID, "B", 1_200_000)
	h.events.reset()

	view := h.bid(t, a.ID, "A", 1_900_000)
	assert.Equal(t, "A", view.LeaderID)
	assert.Equal(t, int64(1_300_000), view.CurrentPrice, "raising own ceiling never moves the price")
	assert.Equal(t, 2, view.BidCount)
	assert.Equal(t, map[string][]types.EventKind{"A": {types.EventBidAccepted}}, h.events.kinds())

	_, err := h.engine.SubmitMaxBid(context.Background(), a.ID, "A", 1_900_000)
	requireCode(t, err, errors.ErrMustExceedOwnCurrentMax)

	view = h.bid(t, a.ID, "C", 1_800_000)
	assert.Equal(t, "A", view.LeaderID, "the new ceiling is what defends the lead")
	assert.Equal(t, int64(1_900_000), view.CurrentPrice)
}

func TestSubmitMaxBid_Eligibility(t *testing.T) {
	h := newHarness(t)
	h.bidder(t, types.Bidder{ID: "unverified", PositiveRatings: 3})
	h.bidder(t, types.Bidder{ID: "newcomer", Verified: true})
	h.bidder(t, types.Bidder{ID: "grumpy", Verified: true, PositiveRatings: 3, NegativeRatings: 1})

	a := h.auction(t, func(a *types.Auction) { a.AllowNewBidders = false })

	cases := []struct {
		bidder string
		code   int
	}{
		{seller, errors.ErrSelfBidForbidden},
		{"unverified", errors.ErrUnverifiedBidder},
		{"newcomer", errors.ErrNewBiddersDisallowed},
		{"grumpy", errors.ErrRatingTooLow},
		{"nobody", errors.ErrBidderNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.bidder, func(t *testing.T) {
			_, err := h.engine.SubmitMaxBid(context.Background(), a.ID, tc.bidder, 2_000_000)
			requireCode(t, err, tc.code)
		})
	}
	assert.Empty(t, h.ledger(t, a.ID))
	assert.Empty(t, h.events.all())
}

func TestSubmitMaxBid_UnknownAuction(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.SubmitMaxBid(context.Background(), "missing", "A", 2_000_000)
	requireCode(t, err, errors.ErrAuctionNotFound)
	assert.True(t, stderrors.Is(err, database.ErrNotFound))
}

func TestSubmitMaxBid_AfterEndTime(t *testing.T) {
	h := newHarness(t)
	a := h.auction(t)
	h.clock.Advance(24 * time.Hour)

	_, err := h.engine.SubmitMaxBid(context.Background(), a.ID, "A", 2_000_000)
	requireCode(t, err, errors.ErrAuctionClosed)
}

func TestSubmitMaxBid_AutoExtends(t *testing.T) {
	h := newHarness(t)
	end := base.Add(3 * time.Minute)
	a := h.auction(t, func(a *types.Auction) {
		a.AutoExtend = true
		a.EndTime = end
	})

	view := h.bid(t, a.ID, "A", 1_500_000)
	assert.True(t, view.EndTime.Equal(end.Add(10*time.Minute)), "got %s", view.EndTime)

	view = h.bid(t, a.ID, "B", 1_200_000)
	assert.True(t, view.EndTime.Equal(end.Add(10*time.Minute)), "outside the trigger window again")

	h.clock.Advance(9 * time.Minute)
	view = h.bid(t, a.ID, "C", 1_700_000)
	assert.True(t, view.EndTime.Equal(end.Add(20*time.Minute)), "extends from the latest end time, got %s", view.EndTime)
}

func TestSubmitMaxBid_NoExtensionWhenDisabled(t *testing.T) {
	h := newHarness(t)
	end := base.Add(time.Minute)
	a := h.auction(t, func(a *types.Auction) { a.EndTime = end })

	view := h.bid(t, a.ID, "A", 1_500_000)
	assert.True(t, view.EndTime.Equal(end))
}

func TestSubmitMaxBid_ConcurrentBidsSerialize(t *testing.T) {
	h := newHarness(t)
	a := h.auction(t)

	bidders := []string{"A", "B", "C", "D", "E"}
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			amount := int64(1_000_000 + (i%25)*137_000 + (i/25)*11)
			_, err := h.engine.SubmitMaxBid(context.Background(), a.ID, bidders[i%len(bidders)], amount)
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
				return
			}
			assert.True(t, errors.IsRejection(err), "unexpected error: %v", err)
		}(i)
	}
	wg.Wait()

	ledger := h.ledger(t, a.ID)
	assert.Len(t, ledger, accepted, "every accepted bid has exactly one ledger row")

	stored, err := h.db.GetAuctionById(context.Background(), a.ID)
	require.NoError(t, err)
	latest := LatestByBidder(ledger)
	leaderRow := latest[stored.Leader()]
	for _, row := range latest {
		assert.LessOrEqual(t, row.CommittedMax, leaderRow.CommittedMax)
	}
	assert.LessOrEqual(t, stored.CurrentPrice, leaderRow.CommittedMax)
	assert.GreaterOrEqual(t, stored.CurrentPrice, stored.StartingPrice)
	assert.Equal(t, stored.CurrentPrice, leaderRow.DisplayedAmount)
	assert.Equal(t, 0, h.engine.locks.size())
}

func TestSubmitMaxBid_OtherAuctionsDoNotWait(t *testing.T) {
	h := newHarness(t)
	busy := h.auction(t)
	free := h.auction(t)

	unlock, err := h.engine.locks.Lock(context.Background(), busy.ID)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = h.engine.SubmitMaxBid(ctx, free.ID, "A", 1_500_000)
	require.NoError(t, err)

	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	_, err = h.engine.SubmitMaxBid(short, busy.ID, "A", 1_500_000)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, context.DeadlineExceeded))
}

type conflictStore struct {
	database.Service
	mu        sync.Mutex
	conflicts int
}

func busyError() error {
	return sqlite3.Error{Code: sqlite3.ErrBusy}
}

func (s *conflictStore) WithAuctionTx(ctx context.Context, id string, fn func(tx database.AuctionTx) error) error {
	s.mu.Lock()
	if s.conflicts > 0 {
		s.conflicts--
		s.mu.Unlock()
		return busyError()
	}
	s.mu.Unlock()
	return s.Service.WithAuctionTx(ctx, id, fn)
}

func TestSubmitMaxBid_RetriesTransientConflicts(t *testing.T) {
	h := newHarness(t)
	a := h.auction(t)
	store := &conflictStore{Service: h.db, conflicts: 2}
	opts := DefaultOptions()
	opts.Clock = h.clock
	opts.RetryInterval = time.Millisecond
	e := New(store, h.events, opts)

	view, err := e.SubmitMaxBid(context.Background(), a.ID, "A", 1_500_000)
	require.NoError(t, err)
	assert.Equal(t, "A", view.LeaderID)
	assert.Len(t, h.ledger(t, a.ID), 1, "failed attempts leave nothing behind")

	store.conflicts = 100
	_, err = e.SubmitMaxBid(context.Background(), a.ID, "B", 1_700_000)
	requireCode(t, err, errors.ErrTryAgain)
	assert.Len(t, h.ledger(t, a.ID), 1)
}

func TestSubmitMaxBid_LockWaitTimesOut(t *testing.T) {
	h := newHarness(t)
	a := h.auction(t)

	unlock, err := h.engine.locks.Lock(context.Background(), a.ID)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = h.engine.SubmitMaxBid(ctx, a.ID, "A", 1_500_000)
	requireCode(t, err, errors.ErrTryAgain)
	assert.Empty(t, h.ledger(t, a.ID))
}

func TestRejectBidder(t *testing.T) {
	h := newHarness(t)
	a := h.auction(t)
	h.bid(t, a.ID, "A", 1_500_000)
	h.bid(t, a.ID, "C", 1_200_000)
	h.bid(t, a.ID, "B", 1_400_000)

	_, err := h.engine.RejectBidder(context.Background(), a.ID, "B", "A")
	requireCode(t, err, errors.ErrNotSeller)

	h.events.reset()
	view, err := h.engine.RejectBidder(context.Background(), a.ID, seller, "A")
	require.NoError(t, err)
	assert.Equal(t, "B", view.LeaderID)
	assert.Equal(t, int64(1_300_000), view.CurrentPrice, "one step over C's ceiling, capped at B's")
	assert.Equal(t, map[string][]types.EventKind{
		"A": {types.EventBidderRejected},
		"B": {types.EventBidAccepted},
	}, h.events.kinds())

	_, err = h.engine.SubmitMaxBid(context.Background(), a.ID, "A", 2_000_000)
	requireCode(t, err, errors.ErrBidderRejected)

	for _, row := range h.ledger(t, a.ID) {
		assert.Equal(t, row.BidderID == "A", row.Rejected, fmt.Sprintf("row %d", row.Seq))
	}
}

func TestRejectBidder_LastBidder(t *testing.T) {
	h := newHarness(t)
	a := h.auction(t)
	h.bid(t, a.ID, "A", 1_500_000)

	view, err := h.engine.RejectBidder(context.Background(), a.ID, seller, "A")
	require.NoError(t, err)
	assert.Empty(t, view.LeaderID)
	assert.Equal(t, int64(1_000_000), view.CurrentPrice)

	view = h.bid(t, a.ID, "B", 1_000_000)
	assert.Equal(t, "B", view.LeaderID)
	assert.Equal(t, int64(1_000_000), view.CurrentPrice)
}

func TestBuyNow_Unavailable(t *testing.T) {
	h := newHarness(t)
	a := h.auction(t)

	_, _, err := h.engine.BuyNow(context.Background(), a.ID, "A")
	requireCode(t, err, errors.ErrBuyNowUnavailable)

	withPrice := h.auction(t, func(a *types.Auction) { a.BuyNowPrice = pricePtr(3_000_000) })
	_, _, err = h.engine.BuyNow(context.Background(), withPrice.ID, seller)
	requireCode(t, err, errors.ErrSelfBidForbidden)
}

func TestBuyNow_RacingBids(t *testing.T) {
	h := newHarness(t)
	a := h.auction(t, func(a *types.Auction) { a.BuyNowPrice = pricePtr(5_000_000) })

	var wg sync.WaitGroup
	for i, id := range []string{"A", "B", "C", "D"} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			if i%2 == 0 {
				_, _, _ = h.engine.BuyNow(context.Background(), a.ID, id)
				return
			}
			_, _ = h.engine.SubmitMaxBid(context.Background(), a.ID, id, 2_000_000)
		}(i, id)
	}
	wg.Wait()

	stored, err := h.db.GetAuctionById(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, stored.Status)
	assert.Equal(t, int64(5_000_000), stored.CurrentPrice)

	order, err := h.db.GetOrderByAuctionId(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, stored.Leader(), order.BuyerID)
	assert.Contains(t, []string{"A", "C"}, order.BuyerID)

	won := 0
	for _, e := range h.events.all() {
		if e.Kind == types.EventBuyNowCompleted && e.RecipientID == order.BuyerID {
			won++
		}
	}
	assert.Equal(t, 1, won)
}
