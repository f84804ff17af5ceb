package engine

import (
	"time"

	"github.com/csc13008-assignments/csc13008-jewelbid-sub000/pkg/types"
)

const (
	DefaultTriggerWindow   = 5 * time.Minute
	DefaultExtensionWindow = 10 * time.Minute
)

// ExtensionPolicy controls anti-sniping.
type ExtensionPolicy struct {
	Trigger   time.Duration
	Extension time.Duration
}

// MaybeExtend pushes EndTime out by the extension window when the auction
// allows it and less than the trigger window remains. The extension is added
// to the current EndTime, so it never shortens the auction.
func MaybeExtend(auction *types.Auction, now time.Time, policy ExtensionPolicy) bool {
	if !auction.AutoExtend || policy.Extension <= 0 {
		return false
	}
	if auction.EndTime.Sub(now) >= policy.Trigger {
		return false
	}
	auction.EndTime = auction.EndTime.Add(policy.Extension)
	return true
}
