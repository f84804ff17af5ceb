package database

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/csc13008-assignments/csc13008-jewelbid-sub000/configs"
	"github.com/csc13008-assignments/csc13008-jewelbid-sub000/pkg/errors"
	"github.com/csc13008-assignments/csc13008-jewelbid-sub000/pkg/types"
)

// ErrNotFound is wrapped by every lookup that finds no row.
var ErrNotFound = stderrors.New("not found")

// Service represents a service that interacts with a database.
type Service interface {
	// Health returns a map of health status information.
	// The keys and values in the map are service-specific.
	Health() map[string]string

	// Close terminates the database connection.
	// It returns an error if the connection cannot be closed.
	Close() error

	// BIDDER METHODS
	GetBidderById(ctx context.Context, bidderID string) (types.Bidder, error)
	SaveBidder(ctx context.Context, bidder types.Bidder) error

	// AUCTION METHODS
	CreateAuction(ctx context.Context, auction types.Auction) (types.Auction, error)
	GetAuctionById(ctx context.Context, auctionID string) (types.Auction, error)
	GetActiveAuctions(ctx context.Context) ([]types.Auction, error)
	GetEndedAuctionIds(ctx context.Context, now time.Time, limit int) ([]string, error)
	GetBidsByAuctionId(ctx context.Context, auctionID string) ([]types.Bid, error)
	GetOrderByAuctionId(ctx context.Context, auctionID string) (types.Order, error)

	// TRANSACTION METHODS

	// WithAuctionTx locks one auction for the duration of fn. Everything fn
	// writes through tx commits together when fn returns nil and is discarded
	// otherwise. Transactions on different auctions do not wait on each other.
	WithAuctionTx(ctx context.Context, auctionID string, fn func(tx AuctionTx) error) error
}

// AuctionTx is the view of a single locked auction inside WithAuctionTx.
type AuctionTx interface {
	// Auction returns the auction row as it was when the lock was taken.
	Auction() types.Auction

	// Bids returns the whole ledger ordered by Seq.
	Bids(ctx context.Context) ([]types.Bid, error)
	IsBidderRejected(ctx context.Context, bidderID string) (bool, error)
	CreateBid(ctx context.Context, bid types.Bid) (types.Bid, error)
	UpdateBidDisplayedAmount(ctx context.Context, bidID string, amount int64) error

	// UpdateAuction persists the mutable fields of the auction. It only
	// applies while the stored auction is still active; otherwise it
	// returns an ErrAuctionClosed AppError.
	UpdateAuction(ctx context.Context, auction types.Auction) (types.Auction, error)

	// RejectBidder adds the bidder to the rejected set and flags all of
	// their ledger rows.
	RejectBidder(ctx context.Context, bidderID string) error

	// CreateOrderIfAbsent inserts the order unless one already exists for
	// the auction. It returns the stored order and whether it was created.
	CreateOrderIfAbsent(ctx context.Context, order types.Order) (types.Order, bool, error)
}

// New opens the store selected by cfg.Database.Driver.
func New(cfg *configs.Config) (Service, error) {
	dbConfig := cfg.Database
	switch dbConfig.Driver {
	case "memory":
		log.Info("Using in-memory auction store")
		return NewMemory(), nil
	case "sqlite":
		log.Info("Opening sqlite auction store", "path", dbConfig.Path)
		return OpenSQLite(dbConfig.Path)
	case "", "postgres":
		connStr := fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s?sslmode=%s",
			dbConfig.User,
			dbConfig.Password,
			dbConfig.Host,
			dbConfig.Port,
			dbConfig.Name,
			dbConfig.SSLMode,
		)
		log.Info("Opening postgres auction store", "host", dbConfig.Host, "db", dbConfig.Name)
		return OpenPostgres(connStr)
	default:
		return nil, fmt.Errorf("unknown database driver %q", dbConfig.Driver)
	}
}

func auctionNotFound(auctionID string) error {
	return &errors.AppError{
		Code:    errors.ErrAuctionNotFound,
		Message: fmt.Sprintf("auction %s not found", auctionID),
		Err:     ErrNotFound,
	}
}

func bidderNotFound(bidderID string) error {
	return &errors.AppError{
		Code:    errors.ErrBidderNotFound,
		Message: fmt.Sprintf("bidder %s not found", bidderID),
		Err:     ErrNotFound,
	}
}

func auctionNotActive(auctionID string) error {
	return errors.New(errors.ErrAuctionClosed, fmt.Sprintf("auction %s is no longer active", auctionID))
}
