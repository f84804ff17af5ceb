package database

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS bidders (
		id               TEXT PRIMARY KEY,
		name             TEXT NOT NULL DEFAULT '',
		verified         BOOLEAN NOT NULL DEFAULT FALSE,
		positive_ratings INTEGER NOT NULL DEFAULT 0,
		negative_ratings INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS auctions (
		id                TEXT PRIMARY KEY,
		seller_id         TEXT NOT NULL,
		starting_price    BIGINT NOT NULL,
		step_price        BIGINT NOT NULL,
		buy_now_price     BIGINT,
		allow_new_bidders BOOLEAN NOT NULL DEFAULT FALSE,
		auto_extend       BOOLEAN NOT NULL DEFAULT FALSE,
		current_price     BIGINT NOT NULL,
		leader_id         TEXT,
		bid_count         INTEGER NOT NULL DEFAULT 0,
		end_time          TIMESTAMP NOT NULL,
		status            TEXT NOT NULL,
		created_at        TIMESTAMP NOT NULL,
		updated_at        TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_auctions_status_end_time ON auctions (status, end_time)`,
	`CREATE TABLE IF NOT EXISTS bids (
		id               TEXT PRIMARY KEY,
		auction_id       TEXT NOT NULL REFERENCES auctions (id),
		bidder_id        TEXT NOT NULL,
		seq              INTEGER NOT NULL,
		committed_max    BIGINT NOT NULL,
		displayed_amount BIGINT NOT NULL,
		created_at       TIMESTAMP NOT NULL,
		rejected         BOOLEAN NOT NULL DEFAULT FALSE,
		UNIQUE (auction_id, seq)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bids_auction_bidder_created ON bids (auction_id, bidder_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS auction_rejections (
		auction_id TEXT NOT NULL REFERENCES auctions (id),
		bidder_id  TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (auction_id, bidder_id)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id          TEXT PRIMARY KEY,
		auction_id  TEXT NOT NULL UNIQUE REFERENCES auctions (id),
		seller_id   TEXT NOT NULL,
		buyer_id    TEXT NOT NULL,
		final_price BIGINT NOT NULL,
		status      TEXT NOT NULL,
		created_at  TIMESTAMP NOT NULL
	)`,
}

func (s *service) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("error applying schema: %w", err)
		}
	}
	return nil
}
