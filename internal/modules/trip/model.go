// README: Trip aggregate, status definitions and scan protocol results.
package trip

import (
	"time"

	"maat/internal/types"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

type Trip struct {
	ID             types.ID   `json:"id"`
	RiderID        types.ID   `json:"rider_id"`
	CardUID        string     `json:"card_uid"`
	EntryStationID types.ID   `json:"entry_station_id"`
	EntryAt        time.Time  `json:"entry_at"`
	ExitStationID  *types.ID  `json:"exit_station_id,omitempty"`
	ExitAt         *time.Time `json:"exit_at,omitempty"`
	Fare           *int64     `json:"fare,omitempty"`
	Refunded       int64      `json:"refunded"`
	Status         Status     `json:"status"`
}

// AllowedTransitions represents the trip state flow as code. Completed and cancelled are terminal.
var AllowedTransitions = map[Status][]Status{
	StatusActive: {StatusCompleted, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// Admission is returned by a successful entry scan.
type Admission struct {
	TripID         types.ID `json:"trip_id"`
	BalanceAtEntry int64    `json:"balance_at_entry"`
}

// Receipt is returned by a successful exit scan.
type Receipt struct {
	TripID          types.ID `json:"trip_id"`
	Fare            int64    `json:"fare"`
	NewBalance      int64    `json:"new_balance"`
	DurationMinutes int64    `json:"duration_minutes"`
}

type RefundResult struct {
	TripID     types.ID `json:"trip_id"`
	Amount     int64    `json:"amount"`
	NewBalance int64    `json:"new_balance"`
}
