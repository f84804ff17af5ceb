package database

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/csc13008-assignments/csc13008-jewelbid-sub000/pkg/errors"
	"github.com/csc13008-assignments/csc13008-jewelbid-sub000/pkg/types"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

type dialect int

const (
	dialectPostgres dialect = iota
	dialectSQLite
)

type service struct {
	db      *sql.DB
	dialect dialect
}

const auctionColumns = `id, seller_id, starting_price, step_price, buy_now_price, allow_new_bidders,
	auto_extend, current_price, leader_id, bid_count, end_time, status, created_at, updated_at`

const bidColumns = `id, auction_id, bidder_id, seq, committed_max, displayed_amount, created_at, rejected`

const orderColumns = `id, auction_id, seller_id, buyer_id, final_price, status, created_at`

// OpenPostgres connects through the pgx database/sql driver and applies the
// schema.
func OpenPostgres(connStr string) (Service, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening postgres: %w", err)
	}
	return open(db, dialectPostgres)
}

// OpenSQLite opens (or creates) the database file at path. Transactions take
// the write lock up front so two writers never interleave.
func OpenSQLite(path string) (Service, error) {
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	return open(db, dialectSQLite)
}

func open(db *sql.DB, d dialect) (Service, error) {
	s := &service{db: db, dialect: d}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

var placeholder = regexp.MustCompile(`\$(\d+)`)

// q adapts a postgres-style query to the active dialect.
func (s *service) q(query string) string {
	if s.dialect == dialectSQLite {
		return placeholder.ReplaceAllString(query, "?$1")
	}
	return query
}

// Health checks the health of the database connection by pinging the database.
// It returns a map with keys indicating various health statistics.
func (s *service) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	stats := make(map[string]string)

	err := s.db.PingContext(ctx)
	if err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("db down: %v", err)
		log.Error("db down", "err", err)
		return stats
	}

	stats["status"] = "up"
	stats["message"] = "It's healthy"

	dbStats := s.db.Stats()
	stats["open_connections"] = strconv.Itoa(dbStats.OpenConnections)
	stats["in_use"] = strconv.Itoa(dbStats.InUse)
	stats["idle"] = strconv.Itoa(dbStats.Idle)
	stats["wait_count"] = strconv.FormatInt(dbStats.WaitCount, 10)
	stats["wait_duration"] = dbStats.WaitDuration.String()

	if dbStats.OpenConnections > 40 {
		stats["message"] = "The database is experiencing heavy load."
	}

	if dbStats.WaitCount > 1000 {
		stats["message"] = "The database has a high number of wait events, indicating potential bottlenecks."
	}

	return stats
}

// Close closes the database connection.
func (s *service) Close() error {
	log.Info("Disconnected from database")
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuction(row rowScanner) (types.Auction, error) {
	var (
		auction  types.Auction
		buyNow   sql.NullInt64
		leaderID sql.NullString
		status   string
	)
	err := row.Scan(
		&auction.ID,
		&auction.SellerID,
		&auction.StartingPrice,
		&auction.StepPrice,
		&buyNow,
		&auction.AllowNewBidders,
		&auction.AutoExtend,
		&auction.CurrentPrice,
		&leaderID,
		&auction.BidCount,
		&auction.EndTime,
		&status,
		&auction.CreatedAt,
		&auction.UpdatedAt,
	)
	if err != nil {
		return types.Auction{}, err
	}
	if buyNow.Valid {
		price := buyNow.Int64
		auction.BuyNowPrice = &price
	}
	if leaderID.Valid {
		id := leaderID.String
		auction.LeaderID = &id
	}
	auction.Status = types.AuctionStatus(status)
	auction.EndTime = auction.EndTime.UTC()
	auction.CreatedAt = auction.CreatedAt.UTC()
	auction.UpdatedAt = auction.UpdatedAt.UTC()
	return auction, nil
}

func scanBid(row rowScanner) (types.Bid, error) {
	var bid types.Bid
	err := row.Scan(
		&bid.ID,
		&bid.AuctionID,
		&bid.BidderID,
		&bid.Seq,
		&bid.CommittedMax,
		&bid.DisplayedAmount,
		&bid.CreatedAt,
		&bid.Rejected,
	)
	bid.CreatedAt = bid.CreatedAt.UTC()
	return bid, err
}

func scanOrder(row rowScanner) (types.Order, error) {
	var (
		order  types.Order
		status string
	)
	err := row.Scan(
		&order.ID,
		&order.AuctionID,
		&order.SellerID,
		&order.BuyerID,
		&order.FinalPrice,
		&status,
		&order.CreatedAt,
	)
	order.Status = types.OrderStatus(status)
	order.CreatedAt = order.CreatedAt.UTC()
	return order, err
}

func nullableInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullableString(v *string) sql.NullString {
	if v == nil || *v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func (s *service) GetBidderById(ctx context.Context, bidderID string) (types.Bidder, error) {
	var bidder types.Bidder
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT id, name, verified, positive_ratings, negative_ratings FROM bidders WHERE id = $1`),
		bidderID,
	).Scan(&bidder.ID, &bidder.Name, &bidder.Verified, &bidder.PositiveRatings, &bidder.NegativeRatings)
	if stderrors.Is(err, sql.ErrNoRows) {
		return types.Bidder{}, bidderNotFound(bidderID)
	}
	if err != nil {
		return types.Bidder{}, fmt.Errorf("error getting bidder by id: %w", err)
	}
	return bidder, nil
}

func (s *service) SaveBidder(ctx context.Context, bidder types.Bidder) error {
	query := `
        INSERT INTO bidders (id, name, verified, positive_ratings, negative_ratings)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (id) DO UPDATE SET
            name = excluded.name,
            verified = excluded.verified,
            positive_ratings = excluded.positive_ratings,
            negative_ratings = excluded.negative_ratings
    `
	_, err := s.db.ExecContext(ctx, s.q(query),
		bidder.ID, bidder.Name, bidder.Verified, bidder.PositiveRatings, bidder.NegativeRatings)
	if err != nil {
		return fmt.Errorf("error saving bidder: %w", err)
	}
	return nil
}

func (s *service) CreateAuction(ctx context.Context, auction types.Auction) (types.Auction, error) {
	now := time.Now().UTC()
	auction = normalizeNewAuction(auction, now)
	query := `
        INSERT INTO auctions (` + auctionColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
    `
	_, err := s.db.ExecContext(ctx, s.q(query),
		auction.ID,
		auction.SellerID,
		auction.StartingPrice,
		auction.StepPrice,
		nullableInt(auction.BuyNowPrice),
		auction.AllowNewBidders,
		auction.AutoExtend,
		auction.CurrentPrice,
		nullableString(auction.LeaderID),
		auction.BidCount,
		auction.EndTime,
		string(auction.Status),
		auction.CreatedAt,
		auction.UpdatedAt,
	)
	if err != nil {
		return types.Auction{}, fmt.Errorf("error creating auction: %w", err)
	}
	return auction, nil
}

func (s *service) GetAuctionById(ctx context.Context, auctionID string) (types.Auction, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+auctionColumns+` FROM auctions WHERE id = $1`), auctionID)
	auction, err := scanAuction(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return types.Auction{}, auctionNotFound(auctionID)
	}
	if err != nil {
		return types.Auction{}, fmt.Errorf("error getting auction by id: %w", err)
	}
	return auction, nil
}

func (s *service) GetActiveAuctions(ctx context.Context) ([]types.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE status = $1 ORDER BY end_time ASC`
	rows, err := s.db.QueryContext(ctx, s.q(query), string(types.StatusActive))
	if err != nil {
		return nil, fmt.Errorf("error getting active auctions: %w", err)
	}
	defer rows.Close()

	var auctions []types.Auction
	for rows.Next() {
		auction, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning auction: %w", err)
		}
		auctions = append(auctions, auction)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over auctions: %w", err)
	}
	return auctions, nil
}

func (s *service) GetEndedAuctionIds(ctx context.Context, now time.Time, limit int) ([]string, error) {
	query := `SELECT id FROM auctions WHERE status = $1 AND end_time <= $2 ORDER BY end_time ASC LIMIT $3`
	rows, err := s.db.QueryContext(ctx, s.q(query), string(types.StatusActive), now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("error getting ended auctions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("error scanning auction id: %w", err)
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over ended auctions: %w", err)
	}
	return ids, nil
}

func (s *service) GetBidsByAuctionId(ctx context.Context, auctionID string) ([]types.Bid, error) {
	return queryBids(ctx, s.db, s.q(`SELECT `+bidColumns+` FROM bids WHERE auction_id = $1 ORDER BY seq ASC`), auctionID)
}

func (s *service) GetOrderByAuctionId(ctx context.Context, auctionID string) (types.Order, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+orderColumns+` FROM orders WHERE auction_id = $1`), auctionID)
	order, err := scanOrder(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return types.Order{}, fmt.Errorf("order for auction %s: %w", auctionID, ErrNotFound)
	}
	if err != nil {
		return types.Order{}, fmt.Errorf("error getting order by auction id: %w", err)
	}
	return order, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryBids(ctx context.Context, db queryer, query string, args ...any) ([]types.Bid, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error getting bids: %w", err)
	}
	defer rows.Close()

	var bids []types.Bid
	for rows.Next() {
		bid, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning bid: %w", err)
		}
		bids = append(bids, bid)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over bids: %w", err)
	}
	return bids, nil
}

// WithAuctionTx starts a new database transaction and locks the auction row.
func (s *service) WithAuctionTx(ctx context.Context, auctionID string, fn func(tx AuctionTx) error) (err error) {
	var opts *sql.TxOptions
	if s.dialect == dialectPostgres {
		opts = &sql.TxOptions{Isolation: sql.LevelSerializable}
	}
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		} else if cerr := tx.Commit(); cerr != nil {
			err = fmt.Errorf("error committing transaction: %w", cerr)
		}
	}()

	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE id = $1`
	if s.dialect == dialectPostgres {
		query += ` FOR UPDATE`
	}
	auction, err := scanAuction(tx.QueryRowContext(ctx, s.q(query), auctionID))
	if stderrors.Is(err, sql.ErrNoRows) {
		return auctionNotFound(auctionID)
	}
	if err != nil {
		return fmt.Errorf("error getting auction by id in tx: %w", err)
	}

	return fn(&sqlTx{tx: tx, s: s, auction: auction})
}

type sqlTx struct {
	tx      *sql.Tx
	s       *service
	auction types.Auction
}

func (t *sqlTx) Auction() types.Auction {
	return t.auction
}

func (t *sqlTx) Bids(ctx context.Context) ([]types.Bid, error) {
	return queryBids(ctx, t.tx, t.s.q(`SELECT `+bidColumns+` FROM bids WHERE auction_id = $1 ORDER BY seq ASC`), t.auction.ID)
}

func (t *sqlTx) IsBidderRejected(ctx context.Context, bidderID string) (bool, error) {
	var count int
	err := t.tx.QueryRowContext(ctx,
		t.s.q(`SELECT COUNT(*) FROM auction_rejections WHERE auction_id = $1 AND bidder_id = $2`),
		t.auction.ID, bidderID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("error checking rejected bidder: %w", err)
	}
	return count > 0, nil
}

// CreateBid creates a bid within a transaction.
func (t *sqlTx) CreateBid(ctx context.Context, bid types.Bid) (types.Bid, error) {
	query := `
        INSERT INTO bids (` + bidColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `
	bid.AuctionID = t.auction.ID
	bid.CreatedAt = bid.CreatedAt.UTC()
	_, err := t.tx.ExecContext(ctx, t.s.q(query),
		bid.ID,
		bid.AuctionID,
		bid.BidderID,
		bid.Seq,
		bid.CommittedMax,
		bid.DisplayedAmount,
		bid.CreatedAt,
		bid.Rejected,
	)
	if err != nil {
		return types.Bid{}, fmt.Errorf("error creating bid in tx: %w", err)
	}
	return bid, nil
}

func (t *sqlTx) UpdateBidDisplayedAmount(ctx context.Context, bidID string, amount int64) error {
	res, err := t.tx.ExecContext(ctx,
		t.s.q(`UPDATE bids SET displayed_amount = $1 WHERE id = $2 AND auction_id = $3`),
		amount, bidID, t.auction.ID,
	)
	if err != nil {
		return fmt.Errorf("error updating bid displayed amount: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("bid %s: %w", bidID, ErrNotFound)
	}
	return nil
}

// UpdateAuction updates an auction by its ID within a transaction.
func (t *sqlTx) UpdateAuction(ctx context.Context, auction types.Auction) (types.Auction, error) {
	query := `
        UPDATE auctions
        SET current_price = $1, leader_id = $2, bid_count = $3, end_time = $4, status = $5, updated_at = $6
        WHERE id = $7 AND status = $8
    `
	auction.ID = t.auction.ID
	auction.EndTime = auction.EndTime.UTC()
	auction.UpdatedAt = time.Now().UTC()
	res, err := t.tx.ExecContext(ctx, t.s.q(query),
		auction.CurrentPrice,
		nullableString(auction.LeaderID),
		auction.BidCount,
		auction.EndTime,
		string(auction.Status),
		auction.UpdatedAt,
		auction.ID,
		string(types.StatusActive),
	)
	if err != nil {
		return types.Auction{}, fmt.Errorf("error updating auction by id in tx: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return types.Auction{}, fmt.Errorf("error updating auction by id in tx: %w", err)
	}
	if n == 0 {
		return types.Auction{}, auctionNotActive(auction.ID)
	}
	return auction, nil
}

func (t *sqlTx) RejectBidder(ctx context.Context, bidderID string) error {
	insert := `
        INSERT INTO auction_rejections (auction_id, bidder_id, created_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (auction_id, bidder_id) DO NOTHING
    `
	if _, err := t.tx.ExecContext(ctx, t.s.q(insert), t.auction.ID, bidderID, time.Now().UTC()); err != nil {
		return errors.Wrap(err, "error rejecting bidder")
	}
	update := `UPDATE bids SET rejected = $1 WHERE auction_id = $2 AND bidder_id = $3`
	if _, err := t.tx.ExecContext(ctx, t.s.q(update), true, t.auction.ID, bidderID); err != nil {
		return errors.Wrap(err, "error flagging rejected bids")
	}
	return nil
}

func (t *sqlTx) CreateOrderIfAbsent(ctx context.Context, order types.Order) (types.Order, bool, error) {
	order.AuctionID = t.auction.ID
	order.CreatedAt = order.CreatedAt.UTC()
	query := `
        INSERT INTO orders (` + orderColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (auction_id) DO NOTHING
    `
	res, err := t.tx.ExecContext(ctx, t.s.q(query),
		order.ID,
		order.AuctionID,
		order.SellerID,
		order.BuyerID,
		order.FinalPrice,
		string(order.Status),
		order.CreatedAt,
	)
	if err != nil {
		return types.Order{}, false, fmt.Errorf("error creating order in tx: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return types.Order{}, false, fmt.Errorf("error creating order in tx: %w", err)
	}
	stored, err := scanOrder(t.tx.QueryRowContext(ctx,
		t.s.q(`SELECT `+orderColumns+` FROM orders WHERE auction_id = $1`), t.auction.ID))
	if err != nil {
		return types.Order{}, false, fmt.Errorf("error reading order in tx: %w", err)
	}
	return stored, n > 0, nil
}

func normalizeNewAuction(auction types.Auction, now time.Time) types.Auction {
	if auction.ID == "" {
		auction.ID = uuid.NewString()
	}
	if auction.Status == "" {
		auction.Status = types.StatusActive
	}
	if auction.CurrentPrice < auction.StartingPrice {
		auction.CurrentPrice = auction.StartingPrice
	}
	if auction.CreatedAt.IsZero() {
		auction.CreatedAt = now
	}
	if auction.UpdatedAt.IsZero() {
		auction.UpdatedAt = now
	}
	auction.EndTime = auction.EndTime.UTC()
	auction.CreatedAt = auction.CreatedAt.UTC()
	auction.UpdatedAt = auction.UpdatedAt.UTC()
	return auction
}
