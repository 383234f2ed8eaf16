// README: Station catalog entry read by pricing, trips and scanners.
package station

import "maat/internal/types"

type Station struct {
	ID       types.ID
	NameEn   string
	NameAr   string
	Location *types.Point
	Zone     string
	BaseFare int64
	Active   bool
}
