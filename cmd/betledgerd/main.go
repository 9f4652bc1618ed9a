// Command betledgerd serves the betledger HTTP API.
//
// Configuration is read from the environment (optionally via a .env file):
//
//	DATABASE_DRIVER      memory, postgres, sqlite or mongo (inferred from DATABASE_URL when empty)
//	DATABASE_URL         connection string or sqlite file path
//	HTTP_ADDR            listen address (default ":8080")
//	RECONCILE_INTERVAL   e.g. "15m"; "0" disables the reconciliation worker
//	RECONCILE_TOLERANCE  accepted divergence in minor units
//	COMMISSION_INTERVAL  e.g. "6h"; "0" disables the commission worker
//	LOG_LEVEL            debug, info, warn or error
package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/xraph/betledger"
	"github.com/xraph/betledger/api"
	"github.com/xraph/betledger/internal/logging"
	"github.com/xraph/betledger/internal/storeopen"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("loading .env file", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup()

	if err := run(logger); err != nil {
		logger.Error("betledgerd exited", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	opts := []betledger.Option{betledger.WithLogger(logger)}

	if d, ok, err := envDuration("RECONCILE_INTERVAL"); err != nil {
		return err
	} else if ok {
		opts = append(opts, betledger.WithReconcileInterval(d))
	}
	if d, ok, err := envDuration("COMMISSION_INTERVAL"); err != nil {
		return err
	} else if ok {
		opts = append(opts, betledger.WithCommissionSchedule(d, time.Monday))
	}
	if v := os.Getenv("RECONCILE_TOLERANCE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		opts = append(opts, betledger.WithReconcileTolerance(n))
	}

	ctx := context.Background()

	s, err := storeopen.Open(ctx, os.Getenv("DATABASE_DRIVER"), os.Getenv("DATABASE_URL"))
	if err != nil {
		return err
	}

	l := betledger.New(s, opts...)
	if err := l.Start(ctx); err != nil {
		_ = l.Stop()
		return err
	}

	app := api.New(l, api.WithLogger(logger)).App()

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("betledgerd listening", "addr", addr)
		errc <- app.Listen(addr)
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	select {
	case <-c:
		logger.Info("shutting down")
	case err = <-errc:
	}

	if serr := app.Shutdown(); serr != nil && err == nil {
		err = serr
	}
	if serr := l.Stop(); serr != nil && err == nil {
		err = serr
	}
	return err
}

func envDuration(key string) (time.Duration, bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false, err
	}
	return d, true, nil
}
