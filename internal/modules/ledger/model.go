// README: Ledger entries record every balance mutation with its reason and actor.
package ledger

import (
	"time"

	"maat/internal/types"
)

type Reason string

const (
	ReasonTopUp    Reason = "top_up"
	ReasonTripFare Reason = "trip_fare"
	ReasonRefund   Reason = "refund"
)

type Entry struct {
	ID             types.ID  `json:"id"`
	RiderID        types.ID  `json:"rider_id"`
	Delta          int64     `json:"delta"`
	BalanceAfter   int64     `json:"balance_after"`
	Reason         Reason    `json:"reason"`
	Actor          string    `json:"actor"`
	Reference      string    `json:"reference"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Mutation is a debit or credit request. Amount is always positive; the operation
// decides the sign.
type Mutation struct {
	RiderID        types.ID
	Amount         int64
	Reason         Reason
	Actor          string
	Reference      string
	IdempotencyKey string
}

type TopUp struct {
	RiderID        types.ID
	Amount         int64
	Source         string
	IdempotencyKey string
}
