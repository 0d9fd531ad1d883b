package workpool

import "github.com/xraph/workpool/id"

// ID is the primary identifier type for all workpool entities.
type ID = id.ID

// Prefix identifies the entity type encoded in an ID.
type Prefix = id.Prefix
