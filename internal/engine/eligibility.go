package engine

import (
	"time"

	"github.com/csc13008-assignments/csc13008-jewelbid-sub000/pkg/errors"
	"github.com/csc13008-assignments/csc13008-jewelbid-sub000/pkg/types"
	"github.com/shopspring/decimal"
)

// DefaultMinPositiveRatio is the share of positive ratings a rated bidder
// needs to take part in an auction.
var DefaultMinPositiveRatio = decimal.RequireFromString("0.80")

// CanBid decides whether bidder may bid on auction at now. Checks run in a
// fixed order and the first failure is returned.
func CanBid(now time.Time, auction types.Auction, bidder types.Bidder, rejected bool, minPositiveRatio decimal.Decimal) error {
	if auction.Status != types.StatusActive || !now.Before(auction.EndTime) {
		return errors.New(errors.ErrAuctionClosed, "auction is closed")
	}
	if bidder.ID == auction.SellerID {
		return errors.New(errors.ErrSelfBidForbidden, "sellers cannot bid on their own auction")
	}
	if rejected {
		return errors.New(errors.ErrBidderRejected, "the seller has rejected you from this auction")
	}
	if !bidder.Verified {
		return errors.New(errors.ErrUnverifiedBidder, "verify your account before bidding")
	}

	if !bidder.HasRatingHistory() {
		if !auction.AllowNewBidders {
			return errors.New(errors.ErrNewBiddersDisallowed, "this auction does not accept bidders without ratings")
		}
		return nil
	}
	if PositiveRatio(bidder).LessThan(minPositiveRatio) {
		return errors.New(errors.ErrRatingTooLow, "your rating is too low for this auction")
	}
	return nil
}

// PositiveRatio is positive/(positive+negative). Zero without history.
func PositiveRatio(bidder types.Bidder) decimal.Decimal {
	total := bidder.PositiveRatings + bidder.NegativeRatings
	if total <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(bidder.PositiveRatings)).Div(decimal.NewFromInt(int64(total)))
}
