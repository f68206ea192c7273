package account

import (
	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/types"
)

type Role string

const (
	RoleBuyer     Role = "buyer"
	RolePublisher Role = "publisher"
	RolePlatform  Role = "platform"
)

func (r Role) Valid() bool {
	switch r {
	case RoleBuyer, RolePublisher, RolePlatform:
		return true
	}
	return false
}

// Account is a wallet balance owned by one marketplace participant.
// Version increases by one on every successful write and guards
// concurrent read-modify-write cycles.
type Account struct {
	types.Entity
	ID      id.AccountID `json:"id"`
	OwnerID string       `json:"owner_id"`
	Role    Role         `json:"role"`
	Balance types.Money  `json:"balance"`
	Version int64        `json:"version"`
}
