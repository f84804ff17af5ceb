package engine

import (
	"math"
	"testing"

	"github.com/csc13008-assignments/csc13008-jewelbid-sub000/pkg/errors"
	"pgregory.net/rapid"
)

func TestResolve_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		starting := rapid.Int64Range(1, 10_000).Draw(t, "starting")
		step := rapid.OneOf(
			rapid.Int64Range(0, 500),
			rapid.Int64Range(math.MaxInt64/2, math.MaxInt64),
		).Draw(t, "step")
		b := newBook(starting, step)
		if rapid.Bool().Draw(t, "hasBuyNow") {
			buyNow := starting + rapid.Int64Range(1, 50_000).Draw(t, "buyNowOver")
			b.auction.BuyNowPrice = &buyNow
		}

		bidders := []string{"A", "B", "C", "D"}
		steps := rapid.IntRange(1, 40).Draw(t, "bids")
		for i := 0; i < steps; i++ {
			bidder := rapid.SampledFrom(bidders).Draw(t, "bidder")
			amount := rapid.OneOf(
				rapid.Int64Range(1, starting+60_000),
				rapid.Int64Range(math.MaxInt64-1_000, math.MaxInt64),
			).Draw(t, "amount")

			before := b.auction
			res, err := b.submit(bidder, amount)
			if err != nil {
				if !errors.IsRejection(err) {
					t.Fatalf("unexpected error: %v", err)
				}
				if errors.Code(err) == errors.ErrTiedBidMustBeHigher && before.Leader() == bidder {
					t.Fatalf("leader %s got a tie rejection", bidder)
				}
				continue
			}

			after := res.Auction
			if after.CurrentPrice < before.CurrentPrice {
				t.Fatalf("price went down: %d -> %d", before.CurrentPrice, after.CurrentPrice)
			}
			if after.CurrentPrice < starting {
				t.Fatalf("price %d below starting price %d", after.CurrentPrice, starting)
			}
			if bn := after.BuyNowPrice; bn != nil && after.CurrentPrice >= *bn {
				t.Fatalf("price %d reached buy now %d", after.CurrentPrice, *bn)
			}

			latest := LatestByBidder(b.ledger)
			leaderRow, ok := latest[after.Leader()]
			if !ok {
				t.Fatalf("leader %q has no live row", after.Leader())
			}
			if after.CurrentPrice > leaderRow.CommittedMax {
				t.Fatalf("price %d above leader ceiling %d", after.CurrentPrice, leaderRow.CommittedMax)
			}
			if leaderRow.DisplayedAmount != after.CurrentPrice {
				t.Fatalf("leader shows %d, auction shows %d", leaderRow.DisplayedAmount, after.CurrentPrice)
			}
			for id, row := range latest {
				if id != after.Leader() && row.CommittedMax >= leaderRow.CommittedMax {
					t.Fatalf("%s matches or beats the ceiling of leader %s", id, after.Leader())
				}
			}

			if before.HasLeader() && before.Leader() == bidder {
				if after.CurrentPrice != before.CurrentPrice {
					t.Fatalf("raising own ceiling moved the price %d -> %d", before.CurrentPrice, after.CurrentPrice)
				}
				if after.BidCount != before.BidCount {
					t.Fatalf("raising own ceiling changed the bid count")
				}
			} else if after.BidCount != before.BidCount+1 {
				t.Fatalf("bid count %d -> %d", before.BidCount, after.BidCount)
			}
		}
	})
}
