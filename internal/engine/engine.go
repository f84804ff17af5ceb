// Package engine runs proxy bidding, buy-now, settlement and auction closing
// on top of the auction store.
//
// Every operation on one auction holds that auction's lock and runs inside a
// single store transaction. Notifications are published only after the
// transaction committed.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"
	"github.com/csc13008-assignments/csc13008-jewelbid-sub000/configs"
	"github.com/csc13008-assignments/csc13008-jewelbid-sub000/internal/database"
	"github.com/csc13008-assignments/csc13008-jewelbid-sub000/internal/notify"
	"github.com/csc13008-assignments/csc13008-jewelbid-sub000/pkg/errors"
	"github.com/csc13008-assignments/csc13008-jewelbid-sub000/pkg/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Clock is the engine's source of time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

type Options struct {
	Extension         ExtensionPolicy
	TieBreakIncrement int64
	MinPositiveRatio  decimal.Decimal
	MaxRetries        uint64
	RetryInterval     time.Duration
	Clock             Clock
}

func DefaultOptions() Options {
	return Options{
		Extension:         ExtensionPolicy{Trigger: DefaultTriggerWindow, Extension: DefaultExtensionWindow},
		TieBreakIncrement: 1,
		MinPositiveRatio:  DefaultMinPositiveRatio,
		MaxRetries:        5,
		RetryInterval:     20 * time.Millisecond,
	}
}

func OptionsFromConfig(cfg *configs.Config) Options {
	opts := DefaultOptions()
	e := cfg.Engine
	if e.TriggerWindow > 0 {
		opts.Extension.Trigger = e.TriggerWindow
	}
	if e.ExtensionWindow > 0 {
		opts.Extension.Extension = e.ExtensionWindow
	}
	if e.TieBreakIncrement > 0 {
		opts.TieBreakIncrement = e.TieBreakIncrement
	}
	if e.MinPositiveRatio > 0 {
		opts.MinPositiveRatio = decimal.NewFromFloat(e.MinPositiveRatio)
	}
	if e.MaxRetries > 0 {
		opts.MaxRetries = e.MaxRetries
	}
	if e.RetryInterval > 0 {
		opts.RetryInterval = e.RetryInterval
	}
	return opts
}

type Engine struct {
	db        database.Service
	publisher notify.Publisher
	locks     *keyedMutex
	clock     Clock
	opts      Options
}

func New(db database.Service, publisher notify.Publisher, opts Options) *Engine {
	clock := opts.Clock
	if clock == nil {
		clock = systemClock{}
	}
	if opts.TieBreakIncrement <= 0 {
		opts.TieBreakIncrement = 1
	}
	return &Engine{
		db:        db,
		publisher: publisher,
		locks:     newKeyedMutex(),
		clock:     clock,
		opts:      opts,
	}
}

// withAuction runs fn in a transaction on auctionID while holding the
// auction's in-process lock. Transient store conflicts rerun fn, so fn must
// not keep state between attempts.
func (e *Engine) withAuction(ctx context.Context, auctionID string, fn func(tx database.AuctionTx) error) error {
	unlock, err := e.locks.Lock(ctx, auctionID)
	if err != nil {
		return &errors.AppError{Code: errors.ErrTryAgain, Message: "the auction is busy, please try again", Err: err}
	}
	defer unlock()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.opts.RetryInterval
	policy.MaxElapsedTime = 0

	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		err := e.db.WithAuctionTx(ctx, auctionID, fn)
		if err == nil || !database.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		log.Debug("Retrying auction transaction", "auction", auctionID, "attempt", attempt, "err", err)
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, e.opts.MaxRetries), ctx))

	if err != nil && database.IsRetryable(err) {
		log.Warn("Auction transaction kept conflicting", "auction", auctionID, "attempts", attempt)
		return &errors.AppError{Code: errors.ErrTryAgain, Message: "the auction is busy, please try again", Err: err}
	}
	return err
}

func (e *Engine) bidder(ctx context.Context, bidderID string) (types.Bidder, error) {
	bidder, err := e.db.GetBidderById(ctx, bidderID)
	if err != nil {
		return types.Bidder{}, err
	}
	return bidder, nil
}

func (e *Engine) publish(events []types.Event) {
	if e.publisher == nil || len(events) == 0 {
		return
	}
	e.publisher.Publish(events...)
}

// Auction returns the public view of an auction.
func (e *Engine) Auction(ctx context.Context, auctionID string) (types.AuctionView, error) {
	auction, err := e.db.GetAuctionById(ctx, auctionID)
	if err != nil {
		return types.AuctionView{}, err
	}
	return auction.View(), nil
}

// SubmitMaxBid records bidderID's maximum bid and returns the new public
// state, or the reason the bid was refused.
func (e *Engine) SubmitMaxBid(ctx context.Context, auctionID, bidderID string, maxBid int64) (types.AuctionView, error) {
	bidder, err := e.bidder(ctx, bidderID)
	if err != nil {
		return types.AuctionView{}, err
	}

	var (
		view   types.AuctionView
		events []types.Event
	)
	err = e.withAuction(ctx, auctionID, func(tx database.AuctionTx) error {
		events = nil
		auction := tx.Auction()
		now := e.clock.Now()

		rejected, err := tx.IsBidderRejected(ctx, bidderID)
		if err != nil {
			return err
		}
		if err := CanBid(now, auction, bidder, rejected, e.opts.MinPositiveRatio); err != nil {
			return err
		}

		ledger, err := tx.Bids(ctx)
		if err != nil {
			return err
		}
		res, err := Resolve(auction, ledger, bidderID, maxBid, e.opts.TieBreakIncrement, now)
		if err != nil {
			return err
		}
		if MaybeExtend(&res.Auction, now, e.opts.Extension) {
			log.Info("Auction extended", "auction", auctionID, "endTime", res.Auction.EndTime)
		}

		if res.DisplayedUpdate != nil {
			if err := tx.UpdateBidDisplayedAmount(ctx, res.DisplayedUpdate.BidID, res.DisplayedUpdate.Amount); err != nil {
				return err
			}
		}
		bid := res.NewBid
		bid.ID = uuid.NewString()
		if _, err := tx.CreateBid(ctx, bid); err != nil {
			return err
		}
		updated, err := tx.UpdateAuction(ctx, res.Auction)
		if err != nil {
			return err
		}

		view = updated.View()
		events = res.Events
		return nil
	})
	if err != nil {
		if errors.IsRejection(err) {
			log.Debug("Bid rejected", "auction", auctionID, "bidder", bidderID, "max", maxBid, "reason", err)
		} else {
			log.Error("Error submitting bid", "auction", auctionID, "bidder", bidderID, "err", err)
		}
		return types.AuctionView{}, err
	}

	log.Debug("Bid accepted", "auction", auctionID, "bidder", bidderID, "price", view.CurrentPrice, "leader", view.LeaderID)
	e.publish(events)
	return view, nil
}

// BuyNow ends the auction at its buy-now price with bidderID as the winner.
func (e *Engine) BuyNow(ctx context.Context, auctionID, bidderID string) (types.Order, types.AuctionView, error) {
	bidder, err := e.bidder(ctx, bidderID)
	if err != nil {
		return types.Order{}, types.AuctionView{}, err
	}

	var (
		order  types.Order
		view   types.AuctionView
		events []types.Event
	)
	err = e.withAuction(ctx, auctionID, func(tx database.AuctionTx) error {
		events = nil
		auction := tx.Auction()
		now := e.clock.Now()

		rejected, err := tx.IsBidderRejected(ctx, bidderID)
		if err != nil {
			return err
		}
		if err := CanBid(now, auction, bidder, rejected, e.opts.MinPositiveRatio); err != nil {
			return err
		}
		if auction.BuyNowPrice == nil {
			return errors.New(errors.ErrBuyNowUnavailable, "this auction has no buy now price")
		}
		price := *auction.BuyNowPrice

		ledger, err := tx.Bids(ctx)
		if err != nil {
			return err
		}
		if _, err := tx.CreateBid(ctx, types.Bid{
			ID:              uuid.NewString(),
			BidderID:        bidderID,
			Seq:             nextSeq(ledger),
			CommittedMax:    price,
			DisplayedAmount: price,
			CreatedAt:       now,
		}); err != nil {
			return err
		}

		auction.EndTime = now
		auction.CurrentPrice = price
		auction.LeaderID = &bidderID
		auction.BidCount++
		auction.Status = types.StatusCompleted
		updated, err := tx.UpdateAuction(ctx, auction)
		if err != nil {
			return err
		}

		order, err = settle(ctx, tx, auction.SellerID, bidderID, price, now)
		if err != nil {
			return err
		}

		view = updated.View()
		recipients := append([]string{bidderID, auction.SellerID}, Participants(ledger, bidderID, auction.SellerID)...)
		for _, id := range recipients {
			events = append(events, types.Event{
				Kind: types.EventBuyNowCompleted, RecipientID: id, AuctionID: auctionID, Price: price, OccurredAt: now,
			})
		}
		return nil
	})
	if err != nil {
		if errors.IsRejection(err) {
			log.Debug("Buy now rejected", "auction", auctionID, "bidder", bidderID, "reason", err)
		} else {
			log.Error("Error executing buy now", "auction", auctionID, "bidder", bidderID, "err", err)
		}
		return types.Order{}, types.AuctionView{}, err
	}

	log.Info("Auction bought now", "auction", auctionID, "buyer", bidderID, "price", view.CurrentPrice)
	e.publish(events)
	return order, view, nil
}

// RejectBidder is the seller's veto: the bidder can no longer bid and their
// commitments stop counting. If they were leading, leadership moves to the
// best remaining bidder.
func (e *Engine) RejectBidder(ctx context.Context, auctionID, sellerID, bidderID string) (types.AuctionView, error) {
	var (
		view   types.AuctionView
		events []types.Event
	)
	err := e.withAuction(ctx, auctionID, func(tx database.AuctionTx) error {
		events = nil
		auction := tx.Auction()
		now := e.clock.Now()

		if auction.Status != types.StatusActive || !now.Before(auction.EndTime) {
			return errors.New(errors.ErrAuctionClosed, "auction is closed")
		}
		if auction.SellerID != sellerID {
			return errors.New(errors.ErrNotSeller, "only the seller can reject bidders")
		}
		if bidderID == "" || bidderID == sellerID {
			return errors.New(errors.ErrSelfBidForbidden, "the seller cannot reject themselves")
		}

		if err := tx.RejectBidder(ctx, bidderID); err != nil {
			return err
		}
		events = append(events, types.Event{
			Kind: types.EventBidderRejected, RecipientID: bidderID, AuctionID: auctionID, Price: auction.CurrentPrice, OccurredAt: now,
		})

		if auction.Leader() == bidderID {
			ledger, err := tx.Bids(ctx)
			if err != nil {
				return err
			}
			var update *DisplayedUpdate
			auction, update = Releader(auction, ledger)
			if update != nil {
				if err := tx.UpdateBidDisplayedAmount(ctx, update.BidID, update.Amount); err != nil {
					return err
				}
				events = append(events, types.Event{
					Kind: types.EventBidAccepted, RecipientID: auction.Leader(), AuctionID: auctionID, Price: auction.CurrentPrice, OccurredAt: now,
				})
			}
			log.Info("Leader rejected, leadership recomputed", "auction", auctionID, "leader", auction.Leader(), "price", auction.CurrentPrice)
		}

		updated, err := tx.UpdateAuction(ctx, auction)
		if err != nil {
			return err
		}
		view = updated.View()
		return nil
	})
	if err != nil {
		return types.AuctionView{}, err
	}
	e.publish(events)
	return view, nil
}

// Finalize closes an ended auction. It reports false when the auction was
// already closed or has not ended yet, which makes a repeated or concurrent
// call a no-op.
func (e *Engine) Finalize(ctx context.Context, auctionID string) (bool, error) {
	var (
		finalized bool
		events    []types.Event
	)
	err := e.withAuction(ctx, auctionID, func(tx database.AuctionTx) error {
		finalized = false
		events = nil
		auction := tx.Auction()
		now := e.clock.Now()

		if auction.Status != types.StatusActive || auction.EndTime.After(now) {
			return nil
		}

		if !auction.HasLeader() {
			auction.Status = types.StatusCompleted
			if _, err := tx.UpdateAuction(ctx, auction); err != nil {
				return err
			}
			events = append(events, types.Event{
				Kind: types.EventAuctionEndedNoBids, RecipientID: auction.SellerID, AuctionID: auctionID, Price: auction.CurrentPrice, OccurredAt: now,
			})
			finalized = true
			return nil
		}

		winner := auction.Leader()
		if _, err := settle(ctx, tx, auction.SellerID, winner, auction.CurrentPrice, now); err != nil {
			return err
		}
		auction.Status = types.StatusCompleted
		if _, err := tx.UpdateAuction(ctx, auction); err != nil {
			return err
		}

		ledger, err := tx.Bids(ctx)
		if err != nil {
			return err
		}
		notice := func(kind types.EventKind, recipient string) types.Event {
			return types.Event{Kind: kind, RecipientID: recipient, AuctionID: auctionID, Price: auction.CurrentPrice, OccurredAt: now}
		}
		events = append(events,
			notice(types.EventAuctionWon, winner),
			notice(types.EventAuctionSold, auction.SellerID),
		)
		for _, loser := range Participants(ledger, winner) {
			events = append(events, notice(types.EventAuctionLost, loser))
		}
		finalized = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("error finalizing auction %s: %w", auctionID, err)
	}
	if finalized {
		e.publish(events)
	}
	return finalized, nil
}
