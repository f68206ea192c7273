// Package idempotency models client-supplied keys that deduplicate
// retried mutating calls.
package idempotency

import "time"

type Operation string

const (
	OpCreateOrder Operation = "create_order"
	OpAdminDecide Operation = "admin_decide"
	OpCheckout    Operation = "checkout"
	OpTopUp       Operation = "top_up"
)

type State string

const (
	StateInFlight  State = "in_flight"
	StateCompleted State = "completed"
)

// Key is a reservation. ResourceID names what the completed call
// produced (an order or checkout ID) so a replay can return it.
type Key struct {
	Key        string    `json:"key"`
	Operation  Operation `json:"operation"`
	State      State     `json:"state"`
	ResourceID string    `json:"resource_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
