package qkd

import (
	"context"
	"runtime"
	"sync"

	"github.com/quantumshield/qkdsim/qkd/rng"
)

// RunTrials executes trials independent protocol runs and returns their
// results in trial order. Each trial gets its own random source derived from
// baseSeed, so trials are independent of worker count and scheduling: the
// same (opts, trials, baseSeed) always produces the same results. The Rand
// field of opts is ignored. workers <= 0 selects GOMAXPROCS.
func RunTrials(ctx context.Context, opts Opts, trials int, baseSeed int64, workers int) ([]Result, error) {
	if trials <= 0 {
		return nil, &ConfigError{"trials", "must be positive"}
	}
	// Validate once up front so a bad config fails before any worker spins.
	probe := opts
	probe.Rand = rng.Seeded(baseSeed)
	if _, err := New(probe); err != nil {
		return nil, err
	}

	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > trials {
		workers = trials
	}

	results := make([]Result, trials)
	errs := make([]error, trials)
	idx := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range idx {
				o := opts
				o.Rand = rng.Seeded(rng.TrialSeed(baseSeed, i))
				p, err := New(o)
				if err != nil {
					errs[i] = err
					continue
				}
				results[i], errs[i] = p.Run(ctx)
			}
		}()
	}
	for i := 0; i < trials; i++ {
		idx <- i
	}
	close(idx)
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}
