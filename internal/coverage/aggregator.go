package coverage

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"covdiff/internal/diff"
)

// Aggregator folds executions into bundles.
//
// Work is sharded by class: each worker ORs every execution's vectors for
// the classes it owns, then the shards are combined serially. Because shards
// own disjoint classes the combine step never merges bits, it only moves
// them into the result.
type Aggregator struct {
	workers int
	logger  *slog.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithWorkers sets the number of shards. Values < 1 are ignored.
func WithWorkers(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.workers = n
		}
	}
}

// NewAggregator creates an aggregator. The default worker count is GOMAXPROCS.
func NewAggregator(logger *slog.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{
		workers: runtime.GOMAXPROCS(0),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Aggregate builds the bundle of build from execs.
func (a *Aggregator) Aggregate(ctx context.Context, build diff.BuildKey, execs []Execution) (*Bundle, error) {
	start := time.Now()

	classes := classNames(execs)
	workers := a.workers
	if workers > len(classes) {
		workers = len(classes)
	}
	if workers < 1 {
		workers = 1
	}

	owner := make(map[string]int, len(classes))
	for i, class := range classes {
		owner[class] = i % workers
	}

	shards := make([]*Bundle, workers)
	g, gCtx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			shard := NewBundle(build)
			for _, e := range execs {
				if err := gCtx.Err(); err != nil {
					return err
				}
				part := Execution{Source: e.Source, Test: e.Test, Classes: ClassProbes{}}
				for class, bits := range e.Classes {
					if owner[class] == w {
						part.Classes[class] = bits
					}
				}
				if len(part.Classes) == 0 {
					continue
				}
				if err := shard.Add(part); err != nil {
					return err
				}
			}
			shards[w] = shard
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	bundle := NewBundle(build)
	for _, shard := range shards {
		combine(bundle, shard)
	}
	// tests whose executions carried no probes are still known to the bundle
	for _, e := range execs {
		if e.Source == SourceAgent {
			continue
		}
		if _, ok := bundle.PerTest[e.Test]; !ok {
			bundle.PerTest[e.Test] = ClassProbes{}
		}
		if _, ok := bundle.PerTestType[e.Test.Type]; !ok {
			bundle.PerTestType[e.Test.Type] = ClassProbes{}
		}
	}
	for class := range bundle.Total {
		bundle.refreshOverlap(class)
	}
	bundle.Executions = len(execs)

	if a.logger != nil {
		a.logger.Debug("Aggregated coverage",
			"build", build.String(),
			"executions", len(execs),
			"classes", len(classes),
			"tests", len(bundle.PerTest),
			"workers", workers,
			"duration", time.Since(start),
		)
	}
	return bundle, nil
}

// combine moves shard contents into dst. Shards own disjoint classes.
func combine(dst, shard *Bundle) {
	for class, bits := range shard.Total {
		dst.Total[class] = bits
	}
	for key, byClass := range shard.PerTest {
		target, ok := dst.PerTest[key]
		if !ok {
			target = ClassProbes{}
			dst.PerTest[key] = target
		}
		for class, bits := range byClass {
			target[class] = bits
		}
	}
	for typ, byClass := range shard.PerTestType {
		target, ok := dst.PerTestType[typ]
		if !ok {
			target = ClassProbes{}
			dst.PerTestType[typ] = target
		}
		for class, bits := range byClass {
			target[class] = bits
		}
	}
}

func classNames(execs []Execution) []string {
	seen := make(map[string]struct{})
	for _, e := range execs {
		for class := range e.Classes {
			seen[class] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for class := range seen {
		out = append(out, class)
	}
	sort.Strings(out)
	return out
}

// AggregateByGroup partitions execs by keyFn and aggregates each group into
// its own bundle. Groups are aggregated concurrently.
func AggregateByGroup[K comparable](ctx context.Context, a *Aggregator, build diff.BuildKey, execs []Execution, keyFn func(Execution) K) (map[K]*Bundle, error) {
	groups := make(map[K][]Execution)
	for _, e := range execs {
		k := keyFn(e)
		groups[k] = append(groups[k], e)
	}

	type result struct {
		key    K
		bundle *Bundle
	}
	results := make(chan result, len(groups))

	g, gCtx := errgroup.WithContext(ctx)
	for k, members := range groups {
		g.Go(func() error {
			b, err := a.Aggregate(gCtx, build, members)
			if err != nil {
				return fmt.Errorf("group %v: %w", k, err)
			}
			results <- result{key: k, bundle: b}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	close(results)

	out := make(map[K]*Bundle, len(groups))
	for r := range results {
		out[r.key] = r.bundle
	}
	return out, nil
}

// Overlap returns the AND of every group's vectors, per class present in
// all groups. With fewer than two groups the overlap is empty. Classes whose
// overlap has no set bit are dropped.
func Overlap[K comparable](groups map[K]ClassProbes) (ClassProbes, error) {
	out := ClassProbes{}
	if len(groups) < 2 {
		return out, nil
	}

	var first ClassProbes
	for _, g := range groups {
		first = g
		break
	}

	for class, bits := range first {
		acc := bits
		inAll := true
		for _, g := range groups {
			other, ok := g[class]
			if !ok {
				inAll = false
				break
			}
			var err error
			if acc, err = acc.Intersect(other); err != nil {
				return nil, fmt.Errorf("class %s: %w", class, err)
			}
		}
		if inAll && acc.Any() {
			out[class] = acc
		}
	}
	return out, nil
}

// IntersectPrevious ANDs current with a previously stored aggregate, class
// by class. A class is skipped (treated as empty) when it is missing from
// previous, when the widths differ, or when valid rejects it. valid may be
// nil.
func IntersectPrevious(current, previous ClassProbes, valid func(class string, width int) bool) ClassProbes {
	out := ClassProbes{}
	for class, bits := range current {
		prev, ok := previous[class]
		if !ok || prev.Width() != bits.Width() {
			continue
		}
		if valid != nil && !valid(class, bits.Width()) {
			continue
		}
		and, err := bits.Intersect(prev)
		if err != nil || !and.Any() {
			continue
		}
		out[class] = and
	}
	return out
}

// ValidWidths returns an IntersectPrevious validator accepting a class only
// when its recorded width matches the build's layout in widths.
func ValidWidths(widths map[string]int) func(string, int) bool {
	return func(class string, width int) bool {
		w, ok := widths[class]
		return ok && w == width
	}
}
