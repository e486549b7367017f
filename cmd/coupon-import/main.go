// Command coupon-import loads promotion codes from gzip-compressed partner
// lists. A code is imported when it appears in at least --min-files lists;
// every imported code gets the same discount rule. Codes that already exist
// in the target scope are left untouched.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/marketplace/internal/domain/coupon"
	"github.com/xenking/marketplace/internal/storage/postgres"
)

const batchSize = 10_000

type rule struct {
	merchantID string
	kind       coupon.Kind
	value      decimal.Decimal
	maxUses    int
	validFor   time.Duration
}

func main() {
	var (
		pattern     string
		databaseURL string
		merchantID  string
		kind        string
		value       string
		maxUses     int
		validFor    time.Duration
		minFiles    int
		dryRun      bool
	)

	flag.StringVar(&pattern, "files", "data/*.gz", "glob of gzip-compressed code lists, one code per line")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&merchantID, "merchant", "", "merchant the codes are scoped to, empty for global")
	flag.StringVar(&kind, "kind", string(coupon.KindPercentage), "discount kind: percentage or fixed")
	flag.StringVar(&value, "value", "10", "discount value")
	flag.IntVar(&maxUses, "max-uses", 1, "usage cap per code, 0 for unlimited")
	flag.DurationVar(&validFor, "valid-for", 0, "validity window from now, 0 for open-ended")
	flag.IntVar(&minFiles, "min-files", 2, "number of lists a code must appear in")
	flag.BoolVar(&dryRun, "dry-run", false, "report matching codes without writing")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" && !dryRun {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	r, err := parseRule(merchantID, kind, value, maxUses, validFor)
	if err != nil {
		slog.Error("invalid rule", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	opts := scanOptions{
		minLen:        4,
		maxLen:        32,
		minFiles:      minFiles,
		capacity:      120_000_000,
		fpr:           0.001,
		progressEvery: 10_000_000,
	}
	if err := run(ctx, pattern, databaseURL, opts, r, dryRun); err != nil {
		slog.Error("coupon import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon import completed successfully")
}

func parseRule(merchantID, kind, value string, maxUses int, validFor time.Duration) (rule, error) {
	v, err := decimal.NewFromString(value)
	if err != nil {
		return rule{}, errors.Wrap(err, "parse value")
	}
	r := rule{merchantID: merchantID, kind: coupon.Kind(kind), value: v, maxUses: maxUses, validFor: validFor}
	switch r.kind {
	case coupon.KindPercentage:
		if !v.IsPositive() || v.GreaterThan(decimal.NewFromInt(100)) {
			return rule{}, errors.New("percentage value must be within (0, 100]")
		}
	case coupon.KindFixed:
		if !v.IsPositive() {
			return rule{}, errors.New("fixed value must be positive")
		}
	default:
		return rule{}, errors.Errorf("unsupported kind %q", kind)
	}
	if maxUses < 0 {
		return rule{}, errors.New("max uses must not be negative")
	}
	return r, nil
}

// coupons expands codes into active coupons created at now.
func (r rule) coupons(codes []string, now time.Time) []coupon.Coupon {
	var (
		maxUses    *int
		validUntil *time.Time
	)
	if r.maxUses > 0 {
		maxUses = &r.maxUses
	}
	if r.validFor > 0 {
		until := now.Add(r.validFor)
		validUntil = &until
	}

	out := make([]coupon.Coupon, len(codes))
	for i, code := range codes {
		out[i] = coupon.Coupon{
			ID:         uuid.New().String(),
			Code:       code,
			MerchantID: r.merchantID,
			Kind:       r.kind,
			Value:      r.value,
			MaxUses:    maxUses,
			Active:     true,
			ValidUntil: validUntil,
			CreatedAt:  now,
		}
	}
	return out
}

func run(ctx context.Context, pattern, databaseURL string, opts scanOptions, r rule, dryRun bool) error {
	files, err := filepath.Glob(pattern)
	if err != nil {
		return errors.Wrap(err, "glob")
	}
	if len(files) == 0 {
		return errors.Errorf("no files match %q", pattern)
	}
	if opts.minFiles > len(files) {
		return errors.Errorf("min files %d exceeds the %d matched files", opts.minFiles, len(files))
	}

	slog.Info("scanning code lists", slog.Int("files", len(files)), slog.Int("min_files", opts.minFiles))

	codes, err := findSharedCodes(ctx, files, opts)
	if err != nil {
		return errors.Wrap(err, "find codes")
	}
	slog.Info("codes found", slog.Int("count", len(codes)))

	if dryRun || len(codes) == 0 {
		return nil
	}

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	repo := postgres.NewCouponRepository(pool)
	now := time.Now()
	var inserted int64
	for start := 0; start < len(codes); start += batchSize {
		end := min(start+batchSize, len(codes))
		n, err := repo.Import(ctx, r.coupons(codes[start:end], now))
		if err != nil {
			return errors.Wrapf(err, "import batch at %d", start)
		}
		inserted += n
		slog.Info("write progress", slog.Int("written", end), slog.Int("total", len(codes)))
	}

	slog.Info("coupons imported",
		slog.Int64("inserted", inserted),
		slog.Int64("skipped", int64(len(codes))-inserted),
	)
	return nil
}
