package escrow

import "github.com/xraph/escrow/id"

// ID is the primary identifier type for all escrow entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
