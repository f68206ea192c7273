package types

// ActorRole is the capacity in which a caller acts on an order.
type ActorRole string

const (
	ActorBuyer     ActorRole = "buyer"
	ActorPublisher ActorRole = "publisher"
	ActorAdmin     ActorRole = "admin"
	ActorSystem    ActorRole = "system"
)

// Actor identifies who performed an operation. ID is the caller's account
// ID for buyers and publishers and an opaque operator ID for admins.
type Actor struct {
	ID   string    `json:"id"`
	Role ActorRole `json:"role"`
}

// System is the actor used for scheduler-driven transitions.
var System = Actor{ID: "system", Role: ActorSystem}
