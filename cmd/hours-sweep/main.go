// Command hours-sweep runs one opening hours sweep and exits. It is meant to
// be scheduled by cron when the API server's background sweep is disabled.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/marketplace/internal/domain/merchant"
	"github.com/xenking/marketplace/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		timezone    string
		concurrency int
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&timezone, "timezone", "UTC", "IANA zone opening hours are evaluated in (or MARKET_TIMEZONE env)")
	flag.IntVar(&concurrency, "concurrency", 8, "concurrent merchant updates")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if v := os.Getenv("MARKET_TIMEZONE"); v != "" && timezone == "UTC" {
		timezone = v
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, timezone, concurrency); err != nil {
		slog.Error("sweep failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, databaseURL, timezone string, concurrency int) error {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return errors.Wrapf(err, "load timezone %q", timezone)
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	sweeper := merchant.NewSweeper(postgres.NewMerchantRepository(pool), loc, concurrency)
	summary, err := sweeper.Sweep(ctx)
	if summary != nil {
		for _, c := range summary.Changes {
			slog.Info("merchant updated",
				slog.String("id", c.MerchantID),
				slog.String("name", c.Name),
				slog.Bool("before", c.Before),
				slog.Bool("after", c.After),
			)
		}
	}
	if err != nil {
		return errors.Wrap(err, "sweep")
	}

	slog.Info("sweep completed",
		slog.Int("checked", summary.Checked),
		slog.Int("updated", summary.UpdatedCount),
	)
	return nil
}
