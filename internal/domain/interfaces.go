package domain

import "context"

// StrategyRepository is the persistence boundary for builder exports. It
// replaces the dashboard's localStorage collections; the engine only consumes
// the validated Config inside each StoredStrategy.
type StrategyRepository interface {
	Save(ctx context.Context, strategy *StoredStrategy) error
	Load(ctx context.Context, id string) (*StoredStrategy, error)
	List(ctx context.Context) ([]*StoredStrategy, error)
	Delete(ctx context.Context, id string) error
}

// PositionArchive stores closed positions.
type PositionArchive interface {
	Archive(ctx context.Context, pos *ArchivedPosition) error
	ListClosed(ctx context.Context, limit int) ([]*ArchivedPosition, error)
}

// OrderRouter accepts intents for execution. Submit must not block: the router
// owns acknowledgement and retry, the engine only reacts to terminal reports
// delivered on Reports.
type OrderRouter interface {
	Submit(ctx context.Context, intent OrderIntent) error
	Reports() <-chan ExecutionReport
}

// PriceFeed delivers ticks for subscribed symbols.
type PriceFeed interface {
	Subscribe(symbols []string) error
	OnTick(callback func(tick PriceTick))
	Close() error
}
