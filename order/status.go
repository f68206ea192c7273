package order

// Status is the closed set of order lifecycle states.
type Status string

const (
	StatusPending          Status = "pending"
	StatusContentSubmitted Status = "content_submitted"
	StatusPendingApproval  Status = "pending_approval"
	StatusPaymentPending   Status = "payment_pending"
	StatusCompleted        Status = "completed"
	StatusRefunded         Status = "refunded"
	StatusCancelled        Status = "cancelled"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{
	StatusPending,
	StatusContentSubmitted,
	StatusPendingApproval,
	StatusPaymentPending,
	StatusCompleted,
	StatusRefunded,
	StatusCancelled,
}

var transitions = map[Status][]Status{
	StatusPending:          {StatusContentSubmitted, StatusCancelled, StatusRefunded},
	StatusContentSubmitted: {StatusPendingApproval},
	StatusPendingApproval:  {StatusPaymentPending, StatusRefunded},
	StatusPaymentPending:   {StatusCompleted, StatusPendingApproval},
}

// CanTransition reports whether from -> to is a legal edge. The
// payment_pending -> pending_approval edge exists only to release a
// settlement claim whose payout could not be applied.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, v := range Statuses {
		if v == s {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusRefunded, StatusCancelled:
		return true
	}
	return false
}

// InEscrow reports whether buyer funds are held for an order in s.
func (s Status) InEscrow() bool {
	switch s {
	case StatusPending, StatusContentSubmitted, StatusPendingApproval, StatusPaymentPending:
		return true
	}
	return false
}
