package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
)

// Settings selects and configures a driver for Open.
type Settings struct {
	Driver        string
	Namespace     string
	RedisURL      string
	DatabaseURL   string
	MigrationsDir string
}

// Open connects the configured driver. The postgres driver migrates the
// schema first and its Close also closes the connection pool.
func Open(ctx context.Context, s Settings) (Store, error) {
	switch s.Driver {
	case "redis":
		return NewRedisStore(s.RedisURL, s.Namespace)
	case "postgres":
		db, err := OpenDB(ctx, s.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if s.MigrationsDir != "" {
			if err := ApplyMigrations(ctx, db, s.MigrationsDir); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("migrations: %w", err)
			}
		}
		store, err := NewPostgresStore(ctx, db, s.DatabaseURL, s.Namespace)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return &pooledStore{Store: store, db: db}, nil
	case "memory":
		log.Printf("docstore: using in-memory store, state is not shared between processes")
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", s.Driver)
	}
}

type pooledStore struct {
	Store
	db *sql.DB
}

func (p *pooledStore) Close() error {
	return errors.Join(p.Store.Close(), p.db.Close())
}
