package cta

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kolkov/reconvergence/internal/simt/transcache"
)

// Grid launches independent warps of cached kernels.
//
// Warps share nothing but the translation cache: each gets its own engine
// and register file and runs on its own goroutine. A failing warp does not
// stop the others.
type Grid struct {
	cache  *transcache.Cache
	config Config
}

// NewGrid creates a grid drawing translations from cache.
func NewGrid(cache *transcache.Cache, config Config) *Grid {
	return &Grid{cache: cache, config: config.normalize()}
}

// Config returns the per-warp configuration.
func (g *Grid) Config() Config { return g.config }

// Launch runs warps copies of kernel and waits for all of them.
//
// Results are indexed by warp id and present for failed warps too. The
// returned error joins every warp's failure.
func (g *Grid) Launch(ctx context.Context, kernel string, warps int) ([]Result, error) {
	if warps <= 0 {
		return nil, fmt.Errorf("launch %q: warp count %d must be positive", kernel, warps)
	}
	tr, err := g.cache.GetOrInsert(ctx, transcache.Key{Kernel: kernel, WarpSize: g.config.Threads})
	if err != nil {
		return nil, fmt.Errorf("launch %q: %w", kernel, err)
	}

	results := make([]Result, warps)
	errs := make([]error, warps)
	var wg sync.WaitGroup
	for id := 0; id < warps; id++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w, err := New(id, tr.Program, tr.Graph, g.config)
			if err != nil {
				results[id] = Result{Warp: id}
				errs[id] = err
				return
			}
			results[id], errs[id] = w.Run(ctx)
		}(id)
	}
	wg.Wait()

	return results, errors.Join(errs...)
}
