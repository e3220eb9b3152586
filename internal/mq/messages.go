package mq

import "time"

// AuctionOutcome is the body of auction.ended, auction.won and
// auction.closed_unsold messages. Checkout and payout consume it.
type AuctionOutcome struct {
	AuctionID  string    `json:"auctionId"`
	Reason     string    `json:"reason"`
	WinnerID   string    `json:"winnerId,omitempty"`
	PriceCents int64     `json:"priceCents"`
	EndedAt    time.Time `json:"endedAt"`
}

// OutcomeKey picks the routing key for a settled auction.
func OutcomeKey(o AuctionOutcome) string {
	if o.WinnerID == "" {
		return KeyAuctionClosedUnsold
	}
	return KeyAuctionWon
}
