package main

import (
	"bufio"
	"context"
	"log/slog"
	"math/bits"
	"os"
	"slices"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/marketplace/internal/domain/coupon"
)

// maxFiles is bounded by the per-code file bitmask.
const maxFiles = bits.UintSize

// scanOptions controls which lines of the partner files count as codes.
type scanOptions struct {
	minLen, maxLen int
	// minFiles is how many distinct files must list a code.
	minFiles int
	// capacity and fpr size each file's bloom filter.
	capacity      uint
	fpr           float64
	progressEvery uint64
}

// findSharedCodes returns the normalized codes listed in at least
// opts.minFiles of the gzip files, sorted.
//
// Pass one builds a bloom filter per file. Pass two re-reads every file and
// keeps codes some other file's filter may contain, tagged with a bit per
// file. Bloom false positives are removed when the bitmasks are merged, since
// a code must be seen for real in each counted file.
func findSharedCodes(ctx context.Context, files []string, opts scanOptions) ([]string, error) {
	if len(files) > maxFiles {
		return nil, errors.Errorf("at most %d files are supported, got %d", maxFiles, len(files))
	}
	if opts.minFiles < 2 {
		return readAllCodes(ctx, files, opts)
	}

	filters := make([]*bloom.BloomFilter, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(opts.capacity, opts.fpr)
			var n uint64
			err := streamCodes(gctx, path, opts, func(code string) {
				filter.AddString(code)
				n++
				if opts.progressEvery > 0 && n%opts.progressEvery == 0 {
					slog.Info("pass 1 progress", slog.String("file", path), slog.Uint64("codes", n))
				}
			})
			if err != nil {
				return errors.Wrapf(err, "index %s", path)
			}
			slog.Info("pass 1 complete", slog.String("file", path), slog.Uint64("codes", n))
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	masks := make([]map[string]uint, len(files))
	g, gctx = errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			found := make(map[string]uint)
			bit := uint(1) << uint(i)
			err := streamCodes(gctx, path, opts, func(code string) {
				for j, f := range filters {
					if j != i && f.TestString(code) {
						found[code] |= bit
						return
					}
				}
			})
			if err != nil {
				return errors.Wrapf(err, "scan %s", path)
			}
			slog.Info("pass 2 complete", slog.String("file", path), slog.Int("candidates", len(found)))
			masks[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint)
	for _, m := range masks {
		for code, mask := range m {
			merged[code] |= mask
		}
	}
	var shared []string
	for code, mask := range merged {
		if bits.OnesCount(mask) >= opts.minFiles {
			shared = append(shared, code)
		}
	}
	slices.Sort(shared)
	return shared, nil
}

// readAllCodes returns every distinct code of the files, sorted.
func readAllCodes(ctx context.Context, files []string, opts scanOptions) ([]string, error) {
	seen := make(map[string]struct{})
	for _, path := range files {
		if err := streamCodes(ctx, path, opts, func(code string) {
			seen[code] = struct{}{}
		}); err != nil {
			return nil, errors.Wrapf(err, "read %s", path)
		}
	}
	codes := make([]string, 0, len(seen))
	for code := range seen {
		codes = append(codes, code)
	}
	slices.Sort(codes)
	return codes, nil
}

// streamCodes calls fn with each normalized code of a gzip file whose length
// is within bounds.
func streamCodes(ctx context.Context, path string, opts scanOptions, fn func(code string)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrap(err, "gzip reader")
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		code := coupon.NormalizeCode(scanner.Text())
		if len(code) < opts.minLen || len(code) > opts.maxLen {
			continue
		}
		fn(code)
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "scan")
	}
	return nil
}
