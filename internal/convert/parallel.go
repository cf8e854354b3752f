package convert

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/labelwire/internal/model"
	"github.com/ppiankov/labelwire/internal/wire"
)

// EmitParallel converts independent labels on up to workers goroutines. The
// result keeps label order. The first failure cancels the remaining work.
func EmitParallel(ctx context.Context, labels []*model.Label, workers int, opts Options) ([]wire.Record, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	results := make([][]wire.Record, len(labels))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, l := range labels {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			recs, err := EmitLabel(l, opts)
			if err != nil {
				return fmt.Errorf("emit label %d: %w", i, err)
			}
			results[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	n := 0
	for _, recs := range results {
		n += len(recs)
	}
	out := make([]wire.Record, 0, n)
	for _, recs := range results {
		out = append(out, recs...)
	}
	return out, nil
}
