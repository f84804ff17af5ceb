// Package handlers holds what the REST and websocket transports share: the
// engine surface they call and the presentation of auction state.
package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/csc13008-assignments/csc13008-jewelbid-sub000/pkg/types"
	"github.com/csc13008-assignments/csc13008-jewelbid-sub000/pkg/utils"
)

// UserHeader carries the caller's id, set by the gateway in front of the
// server.
const UserHeader = "X-User-ID"

// Engine is the bidding surface used by the transports.
type Engine interface {
	Auction(ctx context.Context, auctionID string) (types.AuctionView, error)
	SubmitMaxBid(ctx context.Context, auctionID, bidderID string, maxBid int64) (types.AuctionView, error)
	BuyNow(ctx context.Context, auctionID, bidderID string) (types.Order, types.AuctionView, error)
	RejectBidder(ctx context.Context, auctionID, sellerID, bidderID string) (types.AuctionView, error)
}

// Bidders resolves display names.
type Bidders interface {
	GetBidderById(ctx context.Context, bidderID string) (types.Bidder, error)
}

// UserID returns the caller id from the request, or "" when absent.
func UserID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(UserHeader))
}

// Present fills in the masked leader name of view.
func Present(ctx context.Context, bidders Bidders, view types.AuctionView) types.AuctionView {
	if view.LeaderID == "" || bidders == nil {
		return view
	}
	bidder, err := bidders.GetBidderById(ctx, view.LeaderID)
	if err != nil {
		log.Debug("Leader name unavailable", "auction", view.AuctionID, "leader", view.LeaderID, "err", err)
		view.LeaderName = utils.MaskName(view.LeaderID)
		return view
	}
	view.LeaderName = utils.MaskName(bidder.Name)
	if view.LeaderName == "" {
		view.LeaderName = utils.MaskName(view.LeaderID)
	}
	return view
}
