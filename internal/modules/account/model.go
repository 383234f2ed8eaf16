// README: Rider and card records; riders own the stored balance.
package account

import "maat/internal/types"

type Class string

const (
	ClassStandard Class = "standard"
	// ClassRegular riders get the loyalty discount.
	ClassRegular Class = "regular"
)

func ParseClass(v string) (Class, bool) {
	switch Class(v) {
	case ClassStandard, ClassRegular:
		return Class(v), true
	case "":
		return ClassStandard, true
	}
	return "", false
}

type Rider struct {
	ID       types.ID
	FullName string
	Balance  int64
	Class    Class
}

type CardStatus string

const (
	CardActive  CardStatus = "active"
	CardRevoked CardStatus = "revoked"
)

type Card struct {
	UID     string
	RiderID *types.ID
	Status  CardStatus
}
