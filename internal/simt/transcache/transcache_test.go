package transcache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kolkov/reconvergence/internal/simt/isa"
)

func programs() map[string]*isa.Program {
	return map[string]*isa.Program{
		"diverge": isa.NewBuilder("diverge").
			BraIf(isa.TidLess(2), "t").
			Nop().
			Bra("j").
			Label("t").Nop().
			Label("j").Reconverge().
			Exit().
			MustBuild(),
		"straight": isa.NewBuilder("straight").Add().Exit().MustBuild(),
	}
}

func TestGetOrInsert(t *testing.T) {
	c := New(FromPrograms(programs()))
	ctx := context.Background()
	key := Key{Kernel: "diverge", WarpSize: 4}

	tr, err := c.GetOrInsert(ctx, key)
	if err != nil {
		t.Fatalf("GetOrInsert(): %v", err)
	}
	if tr.Key != key || tr.Program.Name != "diverge" || tr.Graph == nil {
		t.Errorf("translation = %+v", tr)
	}
	if pc, err := tr.Graph.ReconvergencePC(0); err != nil || pc != 4 {
		t.Errorf("ReconvergencePC(0) = %d, %v; want 4", pc, err)
	}

	again, err := c.GetOrInsert(ctx, key)
	if err != nil || again != tr {
		t.Errorf("second GetOrInsert() = %p, %v; want cached %p", again, err, tr)
	}
	if s := c.Stats(); s.Hits != 1 || s.Misses != 1 || s.Compiles != 1 {
		t.Errorf("Stats() = %+v", s)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestCompileFailureNotCached(t *testing.T) {
	var calls atomic.Int32
	c := New(func(key Key) (*Translation, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("boom")
		}
		return &Translation{Key: key}, nil
	})
	key := Key{Kernel: "k", WarpSize: 32}

	if _, err := c.GetOrInsert(context.Background(), key); err == nil {
		t.Fatal("first GetOrInsert() succeeded")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d after failure, want 0", c.Len())
	}
	if _, err := c.GetOrInsert(context.Background(), key); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if s := c.Stats(); s.Failures != 1 || s.Compiles != 2 {
		t.Errorf("Stats() = %+v", s)
	}
}

// TestCompilePanicReleasesWaiters tests that a panicking compilation
// neither strands waiters nor stays cached.
func TestCompilePanicReleasesWaiters(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	c := New(func(key Key) (*Translation, error) {
		if calls.Add(1) == 1 {
			<-release
			panic("compiler bug")
		}
		return &Translation{Key: key}, nil
	})
	key := Key{Kernel: "k", WarpSize: 4}

	panicked := make(chan any, 1)
	go func() {
		defer func() { panicked <- recover() }()
		_, _ = c.GetOrInsert(context.Background(), key)
	}()
	for c.Len() == 0 {
		time.Sleep(time.Millisecond)
	}

	waited := make(chan error, 1)
	go func() {
		_, err := c.GetOrInsert(context.Background(), key)
		waited <- err
	}()
	time.Sleep(10 * time.Millisecond)
	close(release)

	if r := <-panicked; r == nil {
		t.Fatal("compile panic was swallowed")
	}
	select {
	case err := <-waited:
		// The waiter either saw the failure or compiled after the cleanup.
		if err != nil && !strings.Contains(err.Error(), "compilation panicked") {
			t.Errorf("waiter error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter still blocked after the compile panic")
	}

	if _, err := c.GetOrInsert(context.Background(), key); err != nil {
		t.Fatalf("retry after panic: %v", err)
	}
	if s := c.Stats(); s.Failures != 1 {
		t.Errorf("Stats() = %+v, want one failure", s)
	}
}

func TestUnknownKernel(t *testing.T) {
	c := New(FromPrograms(programs()))
	_, err := c.GetOrInsert(context.Background(), Key{Kernel: "missing", WarpSize: 4})
	if err == nil {
		t.Fatal("GetOrInsert(missing) succeeded")
	}
	if _, err := c.GetOrInsert(context.Background(), Key{Kernel: "diverge"}); err == nil {
		t.Error("GetOrInsert(warp size 0) succeeded")
	}
}

// TestConcurrentSingleCompile tests that concurrent callers of one key share
// one compilation.
func TestConcurrentSingleCompile(t *testing.T) {
	var compiles atomic.Int32
	release := make(chan struct{})
	c := New(func(key Key) (*Translation, error) {
		compiles.Add(1)
		<-release
		return &Translation{Key: key}, nil
	})

	const callers = 16
	key := Key{Kernel: "k", WarpSize: 32, Specialization: "ipdom"}
	results := make([]*Translation, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tr, err := c.GetOrInsert(context.Background(), key)
			if err != nil {
				t.Errorf("caller %d: %v", i, err)
			}
			results[i] = tr
		}(i)
	}
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := compiles.Load(); n != 1 {
		t.Errorf("compiled %d times, want 1", n)
	}
	for i, tr := range results {
		if tr != results[0] {
			t.Errorf("caller %d got a different translation", i)
		}
	}
}

func TestWaitCancelled(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	c := New(func(key Key) (*Translation, error) {
		<-release
		return &Translation{Key: key}, nil
	})
	key := Key{Kernel: "slow", WarpSize: 4}
	go func() { _, _ = c.GetOrInsert(context.Background(), key) }()
	for c.Len() == 0 {
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.GetOrInsert(ctx, key); !errors.Is(err, context.Canceled) {
		t.Errorf("GetOrInsert() error = %v, want context.Canceled", err)
	}
}

func TestCachedSubkernels(t *testing.T) {
	c := New(FromPrograms(programs()))
	ctx := context.Background()
	keys := []Key{
		{Kernel: "diverge", WarpSize: 32, Specialization: "tf-gen6"},
		{Kernel: "diverge", WarpSize: 4},
		{Kernel: "straight", WarpSize: 4},
		{Kernel: "diverge", WarpSize: 32},
	}
	for _, k := range keys {
		if _, err := c.GetOrInsert(ctx, k); err != nil {
			t.Fatal(err)
		}
	}

	got := c.CachedSubkernels("diverge")
	want := []string{"diverge/w4", "diverge/w32", "diverge/w32/tf-gen6"}
	if len(got) != len(want) {
		t.Fatalf("CachedSubkernels() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i].String() != want[i] {
			t.Errorf("CachedSubkernels()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	if c.Len() != 4 {
		t.Errorf("Len() = %d, want 4", c.Len())
	}
}

func BenchmarkGetOrInsertHit(b *testing.B) {
	c := New(FromPrograms(programs()))
	key := Key{Kernel: "diverge", WarpSize: 32}
	ctx := context.Background()
	if _, err := c.GetOrInsert(ctx, key); err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := c.GetOrInsert(ctx, key); err != nil {
				b.Error(err)
				return
			}
		}
	})
}
