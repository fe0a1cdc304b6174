package repository

import (
	"context"
	"fmt"
)

// Open returns the Store for driver: "memory", "sqlite" or "postgres".
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case DialectSQLite, DialectPostgres:
		return OpenSQL(ctx, driver, dsn)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, driver)
	}
}
