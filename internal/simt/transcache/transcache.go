// Package transcache caches analysed kernels.
//
// A translation is a kernel together with the control-flow analysis the
// reconvergence engines consume. Building one is the expensive part of a
// launch, so translations are cached per (kernel, warp size,
// specialization) key and shared by every warp that runs the same kernel.
//
// Usage:
//
//	cache := transcache.New(transcache.FromPrograms(progs))
//	tr, err := cache.GetOrInsert(ctx, transcache.Key{Kernel: "diverge", WarpSize: 32})
//	if err != nil {
//		return err
//	}
//	engine, err := reconverge.New(reconverge.IPDOM, 32, tr.Graph)
//
// Thread Safety: all methods are safe for concurrent use. Concurrent
// requests for one key compile it exactly once; the other callers wait for
// that compilation.
package transcache

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/kolkov/reconvergence/internal/simt/cfg"
	"github.com/kolkov/reconvergence/internal/simt/isa"
)

// Key identifies one translation.
type Key struct {
	Kernel string
	// WarpSize is the thread count the translation was built for.
	WarpSize int
	// Specialization distinguishes variants of one kernel, empty for the
	// generic translation.
	Specialization string
}

// String renders the key as kernel/wN, with /specialization appended when set.
func (k Key) String() string {
	s := k.Kernel + "/w" + strconv.Itoa(k.WarpSize)
	if k.Specialization != "" {
		s += "/" + k.Specialization
	}
	return s
}

// Translation is a compiled kernel.
type Translation struct {
	Key     Key
	Program *isa.Program
	Graph   *cfg.Graph
}

// CompileFunc builds the translation for key.
type CompileFunc func(key Key) (*Translation, error)

// FromPrograms returns a CompileFunc that analyses programs by kernel name.
func FromPrograms(progs map[string]*isa.Program) CompileFunc {
	return func(key Key) (*Translation, error) {
		p, ok := progs[key.Kernel]
		if !ok {
			return nil, fmt.Errorf("kernel %q not found", key.Kernel)
		}
		g, err := cfg.Build(p)
		if err != nil {
			return nil, err
		}
		return &Translation{Key: key, Program: p, Graph: g}, nil
	}
}

// Stats counts cache activity.
type Stats struct {
	Hits     uint64
	Misses   uint64
	Compiles uint64
	Failures uint64
}

type entry struct {
	done chan struct{}
	tr   *Translation
	err  error
}

// Cache is a get-or-insert translation cache.
type Cache struct {
	compile CompileFunc

	mu      sync.Mutex
	entries map[Key]*entry
	stats   Stats
}

// New creates an empty cache that builds missing translations with compile.
func New(compile CompileFunc) *Cache {
	return &Cache{compile: compile, entries: make(map[Key]*entry)}
}

// GetOrInsert returns the translation for key, compiling it on first use.
//
// A failed or panicking compilation is not cached: the error goes to every
// caller waiting on it and the next request compiles again. ctx only bounds
// the wait for another caller's compilation.
func (c *Cache) GetOrInsert(ctx context.Context, key Key) (*Translation, error) {
	if key.WarpSize <= 0 {
		return nil, fmt.Errorf("translation %s: invalid warp size", key)
	}

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.stats.Hits++
		c.mu.Unlock()
		select {
		case <-e.done:
			return e.tr, e.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	e := &entry{done: make(chan struct{})}
	c.entries[key] = e
	c.stats.Misses++
	c.mu.Unlock()

	// A panicking compile still releases the waiters and the key.
	e.err = fmt.Errorf("translation %s: compilation panicked", key)
	defer func() {
		c.mu.Lock()
		c.stats.Compiles++
		if e.err != nil {
			c.stats.Failures++
			if c.entries[key] == e {
				delete(c.entries, key)
			}
		}
		c.mu.Unlock()
		close(e.done)
	}()

	tr, err := c.compile(key)
	if err != nil {
		e.tr, e.err = nil, fmt.Errorf("translation %s: %w", key, err)
		return nil, e.err
	}
	e.tr, e.err = tr, nil
	return e.tr, nil
}

// CachedSubkernels lists the cached keys of kernel, sorted by warp size then
// specialization.
func (c *Cache) CachedSubkernels(kernel string) []Key {
	c.mu.Lock()
	var keys []Key
	for k := range c.entries {
		if k.Kernel == kernel {
			keys = append(keys, k)
		}
	}
	c.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].WarpSize != keys[j].WarpSize {
			return keys[i].WarpSize < keys[j].WarpSize
		}
		return keys[i].Specialization < keys[j].Specialization
	})
	return keys
}

// Len returns the number of cached or in-flight translations.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the activity counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
