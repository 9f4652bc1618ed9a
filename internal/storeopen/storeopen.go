// Package storeopen selects and opens a store backend by driver name.
package storeopen

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/xraph/betledger/store"
	"github.com/xraph/betledger/store/memory"
	"github.com/xraph/betledger/store/mongo"
	"github.com/xraph/betledger/store/postgres"
	"github.com/xraph/betledger/store/sqlite"
)

// Driver names.
const (
	Memory   = "memory"
	Postgres = "postgres"
	SQLite   = "sqlite"
	Mongo    = "mongo"
)

// DefaultMongoDatabase is used when the mongo URL names no database.
const DefaultMongoDatabase = "betledger"

// Open opens the store for driver at dsn. An empty driver is inferred from
// the dsn scheme, falling back to memory when dsn is empty too.
func Open(ctx context.Context, driver, dsn string) (store.Store, error) {
	if driver == "" {
		driver = Infer(dsn)
	}
	switch strings.ToLower(driver) {
	case Memory:
		return memory.New(), nil
	case Postgres, "postgresql", "pg":
		s, err := postgres.Open(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case SQLite, "sqlite3":
		if dsn == "" {
			dsn = "data/betledger.db"
		}
		s, err := sqlite.Open(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return s, nil
	case Mongo, "mongodb":
		db, err := mongoDatabase(dsn)
		if err != nil {
			return nil, err
		}
		s, err := mongo.Open(ctx, dsn, db)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("betledger: unknown database driver %q", driver)
	}
}

// Infer guesses the driver from a connection string.
func Infer(dsn string) string {
	switch {
	case dsn == "":
		return Memory
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return Postgres
	case strings.HasPrefix(dsn, "mongodb://"), strings.HasPrefix(dsn, "mongodb+srv://"):
		return Mongo
	default:
		return SQLite
	}
}

func mongoDatabase(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("betledger: parse mongo url: %w", err)
	}
	if db := strings.Trim(u.Path, "/"); db != "" {
		return db, nil
	}
	return DefaultMongoDatabase, nil
}
