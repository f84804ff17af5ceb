package database

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/csc13008-assignments/csc13008-jewelbid-sub000/pkg/types"
)

// memoryAuction holds one auction. txMu serializes transactions on the
// auction, stateMu guards the committed state for readers.
type memoryAuction struct {
	txMu    sync.Mutex
	stateMu sync.RWMutex

	auction  types.Auction
	bids     []types.Bid
	rejected map[string]bool
}

type memory struct {
	mu       sync.RWMutex
	auctions map[string]*memoryAuction
	bidders  map[string]types.Bidder
	orders   map[string]types.Order
}

// NewMemory returns a Service that keeps everything in process memory.
func NewMemory() Service {
	return &memory{
		auctions: make(map[string]*memoryAuction),
		bidders:  make(map[string]types.Bidder),
		orders:   make(map[string]types.Order),
	}
}

func (m *memory) Health() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]string{
		"status":   "up",
		"message":  "It's healthy",
		"auctions": fmt.Sprint(len(m.auctions)),
	}
}

func (m *memory) Close() error {
	return nil
}

func (m *memory) GetBidderById(_ context.Context, bidderID string) (types.Bidder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bidder, ok := m.bidders[bidderID]
	if !ok {
		return types.Bidder{}, bidderNotFound(bidderID)
	}
	return bidder, nil
}

func (m *memory) SaveBidder(_ context.Context, bidder types.Bidder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bidders[bidder.ID] = bidder
	return nil
}

func (m *memory) CreateAuction(_ context.Context, auction types.Auction) (types.Auction, error) {
	auction = normalizeNewAuction(auction, time.Now().UTC())
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.auctions[auction.ID]; exists {
		return types.Auction{}, fmt.Errorf("error creating auction: %s already exists", auction.ID)
	}
	m.auctions[auction.ID] = &memoryAuction{auction: auction, rejected: make(map[string]bool)}
	return auction, nil
}

func (m *memory) entry(auctionID string) (*memoryAuction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.auctions[auctionID]
	if !ok {
		return nil, auctionNotFound(auctionID)
	}
	return e, nil
}

func (m *memory) GetAuctionById(_ context.Context, auctionID string) (types.Auction, error) {
	e, err := m.entry(auctionID)
	if err != nil {
		return types.Auction{}, err
	}
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.auction, nil
}

func (m *memory) snapshot() []types.Auction {
	m.mu.RLock()
	entries := make([]*memoryAuction, 0, len(m.auctions))
	for _, e := range m.auctions {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	auctions := make([]types.Auction, 0, len(entries))
	for _, e := range entries {
		e.stateMu.RLock()
		auctions = append(auctions, e.auction)
		e.stateMu.RUnlock()
	}
	sort.Slice(auctions, func(i, j int) bool {
		if auctions[i].EndTime.Equal(auctions[j].EndTime) {
			return auctions[i].ID < auctions[j].ID
		}
		return auctions[i].EndTime.Before(auctions[j].EndTime)
	})
	return auctions
}

func (m *memory) GetActiveAuctions(_ context.Context) ([]types.Auction, error) {
	var active []types.Auction
	for _, a := range m.snapshot() {
		if a.Status == types.StatusActive {
			active = append(active, a)
		}
	}
	return active, nil
}

func (m *memory) GetEndedAuctionIds(_ context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string
	for _, a := range m.snapshot() {
		if limit > 0 && len(ids) >= limit {
			break
		}
		if a.Status == types.StatusActive && !a.EndTime.After(now) {
			ids = append(ids, a.ID)
		}
	}
	return ids, nil
}

func (m *memory) GetBidsByAuctionId(_ context.Context, auctionID string) ([]types.Bid, error) {
	e, err := m.entry(auctionID)
	if err != nil {
		return nil, err
	}
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return append([]types.Bid(nil), e.bids...), nil
}

func (m *memory) GetOrderByAuctionId(_ context.Context, auctionID string) (types.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	order, ok := m.orders[auctionID]
	if !ok {
		return types.Order{}, fmt.Errorf("order for auction %s: %w", auctionID, ErrNotFound)
	}
	return order, nil
}

func (m *memory) WithAuctionTx(ctx context.Context, auctionID string, fn func(tx AuctionTx) error) error {
	e, err := m.entry(auctionID)
	if err != nil {
		return err
	}
	e.txMu.Lock()
	defer e.txMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	e.stateMu.RLock()
	tx := &memoryTx{
		m:        m,
		locked:   e.auction,
		auction:  e.auction,
		bids:     append([]types.Bid(nil), e.bids...),
		rejected: make(map[string]bool, len(e.rejected)),
	}
	for id := range e.rejected {
		tx.rejected[id] = true
	}
	e.stateMu.RUnlock()

	if err := fn(tx); err != nil {
		return err
	}

	e.stateMu.Lock()
	e.auction = tx.auction
	e.bids = tx.bids
	e.rejected = tx.rejected
	e.stateMu.Unlock()

	if tx.order != nil {
		m.mu.Lock()
		if _, exists := m.orders[auctionID]; !exists {
			m.orders[auctionID] = *tx.order
		}
		m.mu.Unlock()
	}
	return nil
}

// memoryTx stages writes until WithAuctionTx commits them.
type memoryTx struct {
	m        *memory
	locked   types.Auction
	auction  types.Auction
	bids     []types.Bid
	rejected map[string]bool
	order    *types.Order
}

func (t *memoryTx) Auction() types.Auction {
	return t.locked
}

func (t *memoryTx) Bids(_ context.Context) ([]types.Bid, error) {
	return append([]types.Bid(nil), t.bids...), nil
}

func (t *memoryTx) IsBidderRejected(_ context.Context, bidderID string) (bool, error) {
	return t.rejected[bidderID], nil
}

func (t *memoryTx) CreateBid(_ context.Context, bid types.Bid) (types.Bid, error) {
	bid.AuctionID = t.locked.ID
	for _, existing := range t.bids {
		if existing.ID == bid.ID || existing.Seq == bid.Seq {
			return types.Bid{}, fmt.Errorf("error creating bid in tx: duplicate bid %s seq %d", bid.ID, bid.Seq)
		}
	}
	t.bids = append(t.bids, bid)
	return bid, nil
}

func (t *memoryTx) UpdateBidDisplayedAmount(_ context.Context, bidID string, amount int64) error {
	for i := range t.bids {
		if t.bids[i].ID == bidID {
			t.bids[i].DisplayedAmount = amount
			return nil
		}
	}
	return fmt.Errorf("bid %s: %w", bidID, ErrNotFound)
}

func (t *memoryTx) UpdateAuction(_ context.Context, auction types.Auction) (types.Auction, error) {
	if t.auction.Status != types.StatusActive {
		return types.Auction{}, auctionNotActive(t.locked.ID)
	}
	updated := t.auction
	updated.CurrentPrice = auction.CurrentPrice
	updated.LeaderID = auction.LeaderID
	updated.BidCount = auction.BidCount
	updated.EndTime = auction.EndTime.UTC()
	updated.Status = auction.Status
	updated.UpdatedAt = time.Now().UTC()
	t.auction = updated
	return updated, nil
}

func (t *memoryTx) RejectBidder(_ context.Context, bidderID string) error {
	t.rejected[bidderID] = true
	for i := range t.bids {
		if t.bids[i].BidderID == bidderID {
			t.bids[i].Rejected = true
		}
	}
	return nil
}

func (t *memoryTx) CreateOrderIfAbsent(_ context.Context, order types.Order) (types.Order, bool, error) {
	if t.order != nil {
		return *t.order, false, nil
	}
	t.m.mu.RLock()
	existing, ok := t.m.orders[t.locked.ID]
	t.m.mu.RUnlock()
	if ok {
		return existing, false, nil
	}
	order.AuctionID = t.locked.ID
	order.CreatedAt = order.CreatedAt.UTC()
	t.order = &order
	return order, true, nil
}
