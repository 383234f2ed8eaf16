// README: Scanner devices, their closed set of classes and scan results.
package scanner

import (
	"strings"
	"time"

	"maat/internal/modules/account"
	"maat/internal/modules/trip"
	"maat/internal/types"
)

type DeviceClass string

const (
	ClassEntry        DeviceClass = "entry"
	ClassExit         DeviceClass = "exit"
	ClassRegistration DeviceClass = "registration"
)

// ParseDeviceClass accepts the stored class names and the "register" alias used by
// older registration terminals. Anything else is ErrUnsupportedType.
func ParseDeviceClass(raw string) (DeviceClass, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "entry":
		return ClassEntry, nil
	case "exit":
		return ClassExit, nil
	case "registration", "register":
		return ClassRegistration, nil
	}
	return "", ErrUnsupportedType
}

type Scanner struct {
	ID            types.ID    `json:"id"`
	StationID     types.ID    `json:"station_id"`
	Class         DeviceClass `json:"type"`
	Active        bool        `json:"active"`
	LastHeartbeat *time.Time  `json:"last_heartbeat,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// ScanEvent is one card tap reported by a device.
type ScanEvent struct {
	Token   string
	CardUID string
}

// Result carries exactly one of Admission, Receipt or Rider depending on Class.
type Result struct {
	Class     DeviceClass     `json:"type"`
	ScannerID types.ID        `json:"scanner_id"`
	StationID types.ID        `json:"station_id"`
	CardUID   string          `json:"card_id"`
	Admission *trip.Admission `json:"admission,omitempty"`
	Receipt   *trip.Receipt   `json:"receipt,omitempty"`
	Rider     *account.Rider  `json:"rider,omitempty"`
}

// Registration is returned once when a scanner is registered. Token is never stored.
type Registration struct {
	Scanner Scanner `json:"scanner"`
	Token   string  `json:"token"`
}
