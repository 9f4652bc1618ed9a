package storeopen_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/xraph/betledger/internal/storeopen"
	"github.com/xraph/betledger/store/memory"
	"github.com/xraph/betledger/store/sqlite"
)

func TestInfer(t *testing.T) {
	tests := []struct {
		dsn  string
		want string
	}{
		{"", storeopen.Memory},
		{"postgres://ledger@localhost:5432/betledger", storeopen.Postgres},
		{"postgresql://localhost/betledger", storeopen.Postgres},
		{"mongodb://localhost:27017/betledger?replicaSet=rs0", storeopen.Mongo},
		{"mongodb+srv://cluster.example.net/betledger", storeopen.Mongo},
		{"data/betledger.db", storeopen.SQLite},
		{"file:data/betledger.db", storeopen.SQLite},
	}
	for _, tt := range tests {
		t.Run(tt.dsn, func(t *testing.T) {
			if got := storeopen.Infer(tt.dsn); got != tt.want {
				t.Errorf("Infer(%q) = %q, want %q", tt.dsn, got, tt.want)
			}
		})
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := storeopen.Open(ctx, "", "")
	if err != nil {
		t.Fatalf("Open(memory): %v", err)
	}
	if _, ok := s.(*memory.Store); !ok {
		t.Errorf("empty driver and dsn opened %T, want *memory.Store", s)
	}

	path := filepath.Join(t.TempDir(), "betledger.db")
	s, err = storeopen.Open(ctx, storeopen.SQLite, path)
	if err != nil {
		t.Fatalf("Open(sqlite): %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if _, ok := s.(*sqlite.Store); !ok {
		t.Errorf("sqlite driver opened %T", s)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	if _, err := storeopen.Open(ctx, "cassandra", "x"); err == nil {
		t.Error("unknown driver accepted")
	}
}
