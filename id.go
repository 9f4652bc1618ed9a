package betledger

import "github.com/xraph/betledger/id"

// ID is the primary identifier type for all betledger entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
