package cta

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kolkov/reconvergence/internal/simt/cfg"
	"github.com/kolkov/reconvergence/internal/simt/isa"
	"github.com/kolkov/reconvergence/internal/simt/reconverge"
	"github.com/kolkov/reconvergence/internal/simt/trace"
	"github.com/kolkov/reconvergence/internal/simt/transcache"
)

const divergeSrc = `
.kernel diverge
entry:  @tid<2 bra taken
        nop
        bra.uni join
taken:  add 2
join:   reconverge
        @tid==2 exit
        bar
        exit
`

const loopSrc = `
.kernel loop
top:    add
        @c<tid bra top
        exit
`

const splitBarSrc = `
.kernel splitbar
        @tid<2 bra taken
        bar
        nop
        bra join
taken:  bar
        nop
join:   exit
`

const spinSrc = `
.kernel spin
top:    bra top
`

func assemble(t testing.TB, src string) *isa.Program {
	t.Helper()
	p, err := isa.Assemble("test", src)
	if err != nil {
		t.Fatalf("Assemble(): %v", err)
	}
	return p
}

func newWarp(t testing.TB, src string, config Config) *CooperativeThreadArray {
	t.Helper()
	p := assemble(t, src)
	g, err := cfg.Build(p)
	if err != nil {
		t.Fatalf("cfg.Build(): %v", err)
	}
	w, err := New(0, p, g, config)
	if err != nil {
		t.Fatalf("New(): %v", err)
	}
	return w
}

func verifyCounters(t *testing.T, got, want []int) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("counters = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("counters = %v, want %v", got, want)
			return
		}
	}
}

func TestRun(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []int
	}{
		{"diverge", divergeSrc, []int{2, 2, 0, 0}},
		{"loop", loopSrc, []int{1, 1, 2, 3}},
	}
	for _, tt := range tests {
		for _, typ := range reconverge.Types() {
			t.Run(tt.name+"/"+typ.String(), func(t *testing.T) {
				w := newWarp(t, tt.src, Config{Engine: typ, Threads: 4})
				res, err := w.Run(context.Background())
				if err != nil {
					t.Fatalf("Run(): %v", err)
				}
				verifyCounters(t, res.Counters, tt.want)
				if w.Engine().State() != reconverge.Terminated {
					t.Errorf("State() = %v", w.Engine().State())
				}
				if res.Stats.ExitedThreads != 4 {
					t.Errorf("ExitedThreads = %d, want 4", res.Stats.ExitedThreads)
				}
			})
		}
	}
}

func TestRunReset(t *testing.T) {
	w := newWarp(t, loopSrc, Config{Engine: reconverge.TFGen6, Threads: 4})
	first, err := w.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	w.Reset()
	second, err := w.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	verifyCounters(t, second.Counters, first.Counters)
	if first.Stats.Steps != second.Stats.Steps {
		t.Errorf("steps %d then %d", first.Stats.Steps, second.Stats.Steps)
	}
}

func TestStepLimit(t *testing.T) {
	w := newWarp(t, spinSrc, Config{Engine: reconverge.Barrier, Threads: 4, MaxSteps: 100})
	_, err := w.Run(context.Background())
	if !errors.Is(err, ErrStepLimit) {
		t.Fatalf("Run() error = %v, want ErrStepLimit", err)
	}
	if !strings.HasPrefix(err.Error(), "warp 0: ") {
		t.Errorf("error %q lacks warp prefix", err)
	}
}

func TestCancel(t *testing.T) {
	w := newWarp(t, spinSrc, Config{Engine: reconverge.Barrier, Threads: 4, MaxSteps: -1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := w.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestEngineErrorWrapped(t *testing.T) {
	w := newWarp(t, splitBarSrc, Config{Engine: reconverge.IPDOM, Threads: 4})
	_, err := w.Run(context.Background())
	if !errors.Is(err, reconverge.ErrBarrierMismatch) {
		t.Fatalf("Run() error = %v, want ErrBarrierMismatch", err)
	}
	var engErr *reconverge.Error
	if !errors.As(err, &engErr) || engErr.Kind != reconverge.BarrierMismatch {
		t.Errorf("errors.As() = %+v", engErr)
	}
}

func TestNewErrors(t *testing.T) {
	p := assemble(t, loopSrc)
	if _, err := New(3, p, nil, Config{Engine: reconverge.IPDOM, Threads: 4}); !errors.Is(err, reconverge.ErrKernelRequired) {
		t.Errorf("New(nil kernel) error = %v", err)
	}
	if _, err := New(0, p, nil, Config{Engine: reconverge.TFGen6, Threads: 2000}); err == nil {
		t.Error("New(2000 threads) succeeded")
	}
	w, err := New(0, p, nil, Config{Engine: reconverge.TFGen6})
	if err != nil {
		t.Fatal(err)
	}
	if w.Engine().Threads() != DefaultConfig().Threads {
		t.Errorf("default Threads = %d", w.Engine().Threads())
	}
}

func TestTraceWarpTag(t *testing.T) {
	rec := &trace.Recorder{}
	p := assemble(t, divergeSrc)
	g, err := cfg.Build(p)
	if err != nil {
		t.Fatal(err)
	}
	w, err := New(7, p, g, Config{Engine: reconverge.IPDOM, Threads: 4, Trace: rec})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if rec.Len() == 0 {
		t.Fatal("no events recorded")
	}
	for _, ev := range rec.Events() {
		if ev.Warp != 7 {
			t.Errorf("event %+v not tagged with warp 7", ev)
		}
	}
}

func TestGridLaunch(t *testing.T) {
	progs := map[string]*isa.Program{
		"loop":     assemble(t, loopSrc),
		"splitbar": assemble(t, splitBarSrc),
	}
	cache := transcache.New(transcache.FromPrograms(progs))
	counter := &trace.Counter{}
	g := NewGrid(cache, Config{Engine: reconverge.TFSortedStack, Threads: 4, Trace: counter})

	results, err := g.Launch(context.Background(), "loop", 8)
	if err != nil {
		t.Fatalf("Launch(): %v", err)
	}
	if len(results) != 8 {
		t.Fatalf("got %d results, want 8", len(results))
	}
	for id, res := range results {
		if res.Warp != id {
			t.Errorf("results[%d].Warp = %d", id, res.Warp)
		}
		verifyCounters(t, res.Counters, []int{1, 1, 2, 3})
	}
	if got := counter.Count(trace.Exit); got < 8 {
		t.Errorf("Exit events = %d, want at least one per warp", got)
	}

	if _, err := g.Launch(context.Background(), "loop", 2); err != nil {
		t.Fatal(err)
	}
	if s := cache.Stats(); s.Compiles != 1 || s.Hits != 1 {
		t.Errorf("cache stats = %+v, want one compile", s)
	}

	results, err = g.Launch(context.Background(), "splitbar", 3)
	if !errors.Is(err, reconverge.ErrBarrierMismatch) {
		t.Fatalf("Launch(splitbar) error = %v, want ErrBarrierMismatch", err)
	}
	if len(results) != 3 || !strings.Contains(err.Error(), "warp 2: ") {
		t.Errorf("results = %d, error %q", len(results), err)
	}

	if _, err := g.Launch(context.Background(), "missing", 1); err == nil {
		t.Error("Launch(missing) succeeded")
	}
	if _, err := g.Launch(context.Background(), "loop", 0); err == nil {
		t.Error("Launch(0 warps) succeeded")
	}
}

func BenchmarkRun(b *testing.B) {
	for _, typ := range reconverge.Types() {
		b.Run(typ.String(), func(b *testing.B) {
			w := newWarp(b, loopSrc, Config{Engine: typ, Threads: 32})
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				w.Reset()
				if _, err := w.Run(context.Background()); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
