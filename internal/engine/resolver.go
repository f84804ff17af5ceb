package engine

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/csc13008-assignments/csc13008-jewelbid-sub000/pkg/errors"
	"github.com/csc13008-assignments/csc13008-jewelbid-sub000/pkg/types"
)

// DisplayedUpdate moves the public amount of an existing ledger row.
type DisplayedUpdate struct {
	BidID  string
	Amount int64
}

// Resolution is the full effect of one accepted max bid. It is applied to the
// store as a single transaction.
type Resolution struct {
	Auction         types.Auction
	NewBid          types.Bid
	DisplayedUpdate *DisplayedUpdate
	Events          []types.Event
}

// Resolve computes the outcome of bidderID committing to maxBid. It does not
// touch the store; ledger is every row of the auction in Seq order.
// tieBreak is the amount added when the computed price would equal a losing
// ceiling.
func Resolve(auction types.Auction, ledger []types.Bid, bidderID string, maxBid, tieBreak int64, now time.Time) (Resolution, error) {
	if tieBreak <= 0 {
		tieBreak = 1
	}
	if maxBid <= 0 {
		return Resolution{}, errors.New(errors.ErrInvalidAmount, "bid amount must be positive")
	}
	if auction.BuyNowPrice != nil && maxBid >= *auction.BuyNowPrice {
		return Resolution{}, errors.New(errors.ErrUseBuyNowInstead,
			fmt.Sprintf("bids of %d or more must use buy now", *auction.BuyNowPrice))
	}

	var leader *types.Bid
	if auction.HasLeader() {
		row, ok := LatestByBidder(ledger)[auction.Leader()]
		if !ok {
			return Resolution{}, errors.New(errors.ErrIntegrity,
				fmt.Sprintf("leader %s of auction %s has no live bid", auction.Leader(), auction.ID))
		}
		leader = &row
	}

	minimum := auction.StartingPrice
	if leader != nil {
		minimum = addCapped(auction.CurrentPrice, auction.StepPrice, math.MaxInt64)
	}
	if maxBid < minimum {
		return Resolution{}, errors.New(errors.ErrBidTooLow, fmt.Sprintf("bid must be at least %d", minimum))
	}

	res := Resolution{Auction: auction}
	row := types.Bid{
		AuctionID:    auction.ID,
		BidderID:     bidderID,
		Seq:          nextSeq(ledger),
		CommittedMax: maxBid,
		CreatedAt:    now,
	}
	notice := func(kind types.EventKind, recipient string, price int64) types.Event {
		return types.Event{Kind: kind, RecipientID: recipient, AuctionID: auction.ID, Price: price, OccurredAt: now}
	}

	switch {
	case leader == nil:
		price := auction.StartingPrice
		row.DisplayedAmount = price
		res.Auction.CurrentPrice = price
		res.Auction.LeaderID = &bidderID
		res.Auction.BidCount++
		res.Events = []types.Event{
			notice(types.EventBidAccepted, bidderID, price),
			notice(types.EventNewBidForSeller, auction.SellerID, price),
		}

	case leader.BidderID == bidderID:
		if maxBid <= leader.CommittedMax {
			return Resolution{}, errors.New(errors.ErrMustExceedOwnCurrentMax,
				fmt.Sprintf("you already lead with a maximum of %d", leader.CommittedMax))
		}
		row.DisplayedAmount = leader.DisplayedAmount
		res.Events = []types.Event{
			notice(types.EventBidAccepted, bidderID, auction.CurrentPrice),
		}

	case maxBid == leader.CommittedMax:
		return Resolution{}, errors.New(errors.ErrTiedBidMustBeHigher,
			"an earlier bid holds the same maximum, bid higher to lead")

	case maxBid < leader.CommittedMax:
		price := addCapped(maxBid, auction.StepPrice, leader.CommittedMax)
		if price == maxBid {
			price = addCapped(maxBid, tieBreak, leader.CommittedMax)
		}
		row.DisplayedAmount = maxBid
		res.DisplayedUpdate = &DisplayedUpdate{BidID: leader.ID, Amount: price}
		res.Auction.CurrentPrice = price
		res.Auction.BidCount++
		res.Events = []types.Event{
			notice(types.EventOutbid, bidderID, price),
			notice(types.EventNewBidForSeller, auction.SellerID, price),
		}

	default:
		price := addCapped(leader.CommittedMax, auction.StepPrice, maxBid)
		if (price == leader.DisplayedAmount || price == leader.CommittedMax) && maxBid > price {
			price = addCapped(price, tieBreak, maxBid)
		}
		row.DisplayedAmount = price
		res.Auction.CurrentPrice = price
		res.Auction.LeaderID = &bidderID
		res.Auction.BidCount++
		res.Events = []types.Event{
			notice(types.EventOutbid, leader.BidderID, price),
			notice(types.EventBidAccepted, bidderID, price),
			notice(types.EventNewBidForSeller, auction.SellerID, price),
		}
	}

	res.NewBid = row
	return res, nil
}

// LatestByBidder maps each bidder to their latest non-rejected ledger row.
func LatestByBidder(ledger []types.Bid) map[string]types.Bid {
	latest := make(map[string]types.Bid)
	for _, bid := range ledger {
		if bid.Rejected {
			continue
		}
		if current, ok := latest[bid.BidderID]; !ok || bid.Seq > current.Seq {
			latest[bid.BidderID] = bid
		}
	}
	return latest
}

// Participants lists distinct non-rejected bidders in order of their first
// bid, leaving out the ids in exclude.
func Participants(ledger []types.Bid, exclude ...string) []string {
	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}
	sorted := append([]types.Bid(nil), ledger...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })

	var ids []string
	for _, bid := range sorted {
		if bid.Rejected || skip[bid.BidderID] {
			continue
		}
		skip[bid.BidderID] = true
		ids = append(ids, bid.BidderID)
	}
	return ids
}

// Releader recomputes leadership from the live ledger after a bidder was
// removed. The highest ceiling leads (earliest on equal ceilings) and pays one
// step over the runner-up's ceiling. It returns the updated auction and, when
// someone leads, the displayed amount of their row.
func Releader(auction types.Auction, ledger []types.Bid) (types.Auction, *DisplayedUpdate) {
	latest := LatestByBidder(ledger)
	candidates := make([]types.Bid, 0, len(latest))
	for _, row := range latest {
		candidates = append(candidates, row)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].CommittedMax != candidates[j].CommittedMax {
			return candidates[i].CommittedMax > candidates[j].CommittedMax
		}
		return candidates[i].Seq < candidates[j].Seq
	})

	if len(candidates) == 0 {
		auction.LeaderID = nil
		auction.CurrentPrice = auction.StartingPrice
		return auction, nil
	}

	top := candidates[0]
	price := auction.StartingPrice
	if len(candidates) > 1 {
		price = max(price, addCapped(candidates[1].CommittedMax, auction.StepPrice, top.CommittedMax))
	}
	leaderID := top.BidderID
	auction.LeaderID = &leaderID
	auction.CurrentPrice = price
	return auction, &DisplayedUpdate{BidID: top.ID, Amount: price}
}

// addCapped returns min(a+b, limit) without overflowing int64.
func addCapped(a, b, limit int64) int64 {
	if b > 0 && a > limit-b {
		return limit
	}
	return min(a+b, limit)
}

func nextSeq(ledger []types.Bid) int {
	seq := 0
	for _, bid := range ledger {
		if bid.Seq > seq {
			seq = bid.Seq
		}
	}
	return seq + 1
}
