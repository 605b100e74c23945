package models

// Order sides.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Order statuses as reported upstream.
const (
	StatusOpen     = "open"
	StatusClosed   = "closed"
	StatusCanceled = "canceled"
	StatusExpired  = "expired"
	StatusRejected = "rejected"
)

// TrackedOrder is the local record of one exchange order being reconciled by
// the live order tracker. It is created when the order is placed, mutated on
// each observed change, and removed on a terminal transition.
type TrackedOrder struct {
	ID          string  `json:"id"`
	ReferenceID string  `json:"referenceId"`
	UserID      string  `json:"userId"`
	Symbol      string  `json:"symbol"`
	Side        string  `json:"side"`
	Status      string  `json:"status"`
	Price       float64 `json:"price"`
	Amount      float64 `json:"amount"`
	Filled      float64 `json:"filled"`
	Remaining   float64 `json:"remaining"`
	Cost        float64 `json:"cost"`
	Timestamp   int64   `json:"t"`
}

// IsTerminal reports whether the status ends the order's lifecycle.
func (o *TrackedOrder) IsTerminal() bool {
	switch o.Status {
	case StatusClosed, StatusCanceled, StatusExpired, StatusRejected:
		return true
	default:
		return false
	}
}

// Changed reports whether the upstream view differs from the local record in
// any field the tracker cares about.
func (o *TrackedOrder) Changed(u *TrackedOrder) bool {
	return o.Status != u.Status || o.Filled != u.Filled || o.Remaining != u.Remaining || o.Cost != u.Cost
}
