package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/csc13008-assignments/csc13008-jewelbid-sub000/internal/database"
	"github.com/csc13008-assignments/csc13008-jewelbid-sub000/pkg/errors"
	"github.com/csc13008-assignments/csc13008-jewelbid-sub000/pkg/types"
	"github.com/google/uuid"
)

// settle creates the order for the auction locked by tx, or returns the one
// that already exists untouched.
func settle(ctx context.Context, tx database.AuctionTx, sellerID, buyerID string, finalPrice int64, now time.Time) (types.Order, error) {
	auctionID := tx.Auction().ID
	if buyerID == "" {
		log.Error("Settlement attempted without a winning bidder", "auction", auctionID)
		return types.Order{}, errors.New(errors.ErrIntegrity,
			fmt.Sprintf("auction %s cannot be settled without a winning bidder", auctionID))
	}

	order, created, err := tx.CreateOrderIfAbsent(ctx, types.Order{
		ID:         uuid.NewString(),
		AuctionID:  auctionID,
		SellerID:   sellerID,
		BuyerID:    buyerID,
		FinalPrice: finalPrice,
		Status:     types.OrderAwaitingPaymentInfo,
		CreatedAt:  now,
	})
	if err != nil {
		return types.Order{}, errors.Wrap(err, "error settling auction")
	}
	if created {
		log.Info("Order created", "auction", auctionID, "order", order.ID, "buyer", buyerID, "price", finalPrice)
	} else {
		log.Debug("Order already exists", "auction", auctionID, "order", order.ID)
	}
	return order, nil
}

// Settle creates the order linking seller, buyer and final price for
// auctionID. Calling it again returns the existing order unchanged.
func (e *Engine) Settle(ctx context.Context, auctionID, sellerID, buyerID string, finalPrice int64) (types.Order, error) {
	var order types.Order
	err := e.withAuction(ctx, auctionID, func(tx database.AuctionTx) error {
		var err error
		order, err = settle(ctx, tx, sellerID, buyerID, finalPrice, e.clock.Now())
		return err
	})
	if err != nil {
		return types.Order{}, err
	}
	return order, nil
}
