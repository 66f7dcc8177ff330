package tickerq

import "github.com/joe10832/TickerQ/id"

// ID is the primary identifier type for all TickerQ entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
