package types

import (
	"time"
)

type AuctionStatus string

const (
	StatusActive    AuctionStatus = "active"
	StatusCompleted AuctionStatus = "completed"
	StatusCancelled AuctionStatus = "cancelled"
)

// Bidder is the read-only eligibility view of a user.
type Bidder struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Verified        bool   `json:"verified"`
	PositiveRatings int    `json:"positiveRatings"`
	NegativeRatings int    `json:"negativeRatings"`
}

// HasRatingHistory reports whether the bidder has received any rating.
func (b Bidder) HasRatingHistory() bool {
	return b.PositiveRatings+b.NegativeRatings > 0
}

// Auction amounts are integer minor currency units.
type Auction struct {
	ID              string        `json:"id"`
	SellerID        string        `json:"sellerId"`
	StartingPrice   int64         `json:"startingPrice"`
	StepPrice       int64         `json:"stepPrice"`
	BuyNowPrice     *int64        `json:"buyNowPrice,omitempty"`
	AllowNewBidders bool          `json:"allowNewBidders"`
	AutoExtend      bool          `json:"autoExtend"`
	CurrentPrice    int64         `json:"currentPrice"`
	LeaderID        *string       `json:"leaderId,omitempty"`
	BidCount        int           `json:"bidCount"`
	EndTime         time.Time     `json:"endTime"`
	Status          AuctionStatus `json:"status"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

func (a Auction) HasLeader() bool {
	return a.LeaderID != nil && *a.LeaderID != ""
}

// Leader returns the leader id or "" when nobody leads.
func (a Auction) Leader() string {
	if a.LeaderID == nil {
		return ""
	}
	return *a.LeaderID
}

// View is the public state of the auction.
func (a Auction) View() AuctionView {
	return AuctionView{
		AuctionID:    a.ID,
		CurrentPrice: a.CurrentPrice,
		LeaderID:     a.Leader(),
		BidCount:     a.BidCount,
		EndTime:      a.EndTime,
		Status:       a.Status,
	}
}

// Bid is an append-only ledger row. Seq orders rows within one auction.
type Bid struct {
	ID              string    `json:"id"`
	AuctionID       string    `json:"auctionId"`
	BidderID        string    `json:"bidderId"`
	Seq             int       `json:"seq"`
	CommittedMax    int64     `json:"committedMax"`
	DisplayedAmount int64     `json:"displayedAmount"`
	CreatedAt       time.Time `json:"createdAt"`
	Rejected        bool      `json:"rejected"`
}

type OrderStatus string

const (
	OrderAwaitingPaymentInfo OrderStatus = "awaiting_payment_info"
)

type Order struct {
	ID         string      `json:"id"`
	AuctionID  string      `json:"auctionId"`
	SellerID   string      `json:"sellerId"`
	BuyerID    string      `json:"buyerId"`
	FinalPrice int64       `json:"finalPrice"`
	Status     OrderStatus `json:"status"`
	CreatedAt  time.Time   `json:"createdAt"`
}

// AuctionView is the public state of an auction. LeaderID stays server side;
// clients only see the masked LeaderName.
type AuctionView struct {
	AuctionID    string        `json:"auctionId"`
	CurrentPrice int64         `json:"currentPrice"`
	LeaderID     string        `json:"-"`
	LeaderName   string        `json:"leaderName,omitempty"`
	BidCount     int           `json:"bidCount"`
	EndTime      time.Time     `json:"endTime"`
	Status       AuctionStatus `json:"status"`
}

type EventKind string

const (
	EventBidAccepted        EventKind = "bid_accepted"
	EventOutbid             EventKind = "outbid"
	EventNewBidForSeller    EventKind = "new_bid_for_seller"
	EventAuctionEndedNoBids EventKind = "auction_ended_no_bids"
	EventAuctionWon         EventKind = "auction_won"
	EventAuctionSold        EventKind = "auction_sold"
	EventAuctionLost        EventKind = "auction_lost"
	EventBuyNowCompleted    EventKind = "buy_now_completed"
	EventBidderRejected     EventKind = "bidder_rejected"
)

// Event is a notification addressed to one user.
type Event struct {
	Kind        EventKind `json:"kind"`
	RecipientID string    `json:"recipientId"`
	AuctionID   string    `json:"auctionId"`
	Price       int64     `json:"price"`
	OccurredAt  time.Time `json:"occurredAt"`
}
