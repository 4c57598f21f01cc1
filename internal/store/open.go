package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Open returns the store named by kind. For postgres the pool is returned as
// well and must be closed by the caller; for memory it is nil.
func Open(ctx context.Context, kind, dsn string, migrate bool) (Store, *pgxpool.Pool, error) {
	switch kind {
	case "memory":
		log.Warn().Msg("using in-memory store, data is lost on restart")
		return NewMemory(), nil, nil
	case "", "postgres":
	default:
		return nil, nil, fmt.Errorf("unknown store %q", kind)
	}
	if migrate {
		if err := Migrate(ctx, dsn); err != nil {
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("db connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("db ping: %w", err)
	}
	return NewPostgres(pool), pool, nil
}
