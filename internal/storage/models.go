package storage

import (
	"time"
)

// QuoteFilter narrows history queries. Zero values disable a constraint.
type QuoteFilter struct {
	Symbol string
	From   time.Time
	To     time.Time
	Limit  int
}

// SymbolCount is the number of stored rows for one symbol.
type SymbolCount struct {
	Symbol string
	Count  int64
}

// Stats summarises the primary store.
type Stats struct {
	TotalRecords     int64
	UniqueSymbols    int64
	Earliest         *time.Time
	Latest           *time.Time
	RecordsPerSymbol []SymbolCount
}
