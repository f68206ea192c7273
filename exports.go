package escrow

import "github.com/xraph/escrow/types"

// Re-export common types so callers rarely need the types package.

// Money is re-exported from types package.
type Money = types.Money

// Entity is re-exported from types package.
type Entity = types.Entity

// Actor is re-exported from types package.
type Actor = types.Actor

// Re-export Money constructors
var (
	USD        = types.USD
	EUR        = types.EUR
	GBP        = types.GBP
	INR        = types.INR
	Zero       = types.Zero
	Sum        = types.Sum
	ParseMoney = types.ParseMoney
)

// Actors
var (
	System = types.System
)

// Buyer, Publisher and Admin build actors for the given caller.
func Buyer(accountID string) Actor     { return Actor{ID: accountID, Role: types.ActorBuyer} }
func Publisher(accountID string) Actor { return Actor{ID: accountID, Role: types.ActorPublisher} }
func Admin(operatorID string) Actor    { return Actor{ID: operatorID, Role: types.ActorAdmin} }
