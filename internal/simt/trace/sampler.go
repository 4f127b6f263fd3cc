package trace

import (
	"sync/atomic"
)

// SamplerConfig configures trace sampling.
//
// Long-running kernels produce an event per divergent branch and per exit,
// which quickly dwarfs the interesting part of a trace. Sampling forwards
// one event in Rate and drops the rest.
//
// Usage:
//
//	// Default: no sampling, every event forwarded
//	s := trace.NewSampler(trace.SamplerConfig{}, rec)
//
//	// Forward 1 in 10 events
//	s := trace.NewSampler(trace.SamplerConfig{Enabled: true, Rate: 10}, rec)
type SamplerConfig struct {
	// Enabled determines if sampling is active.
	// When false, all events are forwarded.
	Enabled bool

	// Rate determines the sampling frequency.
	// - Rate=1: forward every event (same as Enabled=false)
	// - Rate=10: forward 1 in 10 events
	//
	// Default: 1 (no sampling).
	Rate uint64
}

// Sampler is a Sink that forwards a deterministic 1-in-Rate subset of events.
//
// An atomic counter increments on every event and modulo selection picks the
// forwarded ones. The first event is always forwarded.
//
// Thread Safety: All methods are safe for concurrent calls.
type Sampler struct {
	config SamplerConfig
	next   Sink

	// pos is incremented on every event.
	pos uint64

	stats SamplerStats
}

// SamplerStats tracks sampling statistics.
type SamplerStats struct {
	// Total counts all events (forwarded + dropped).
	Total uint64
	// Forwarded counts events passed to the next sink.
	Forwarded uint64
	// Dropped counts events skipped due to sampling.
	Dropped uint64
}

// NewSampler creates a Sampler forwarding to next.
//
// If rate is 0 or 1, sampling is effectively disabled. A nil next discards.
func NewSampler(config SamplerConfig, next Sink) *Sampler {
	// Normalize rate: 0 and 1 both mean "forward all"
	if config.Rate == 0 {
		config.Rate = 1
	}
	if next == nil {
		next = Discard
	}
	return &Sampler{config: config, next: next}
}

// ShouldSample reports whether the current event should be forwarded.
func (s *Sampler) ShouldSample() bool {
	if !s.IsEnabled() {
		return true
	}
	pos := atomic.AddUint64(&s.pos, 1)
	return (pos-1)%s.config.Rate == 0
}

// Emit forwards ev when it is sampled.
func (s *Sampler) Emit(ev Event) {
	atomic.AddUint64(&s.stats.Total, 1)
	if !s.ShouldSample() {
		atomic.AddUint64(&s.stats.Dropped, 1)
		return
	}
	atomic.AddUint64(&s.stats.Forwarded, 1)
	s.next.Emit(ev)
}

// Stats returns a copy of the current sampling statistics.
func (s *Sampler) Stats() SamplerStats {
	return SamplerStats{
		Total:     atomic.LoadUint64(&s.stats.Total),
		Forwarded: atomic.LoadUint64(&s.stats.Forwarded),
		Dropped:   atomic.LoadUint64(&s.stats.Dropped),
	}
}

// IsEnabled returns true if sampling is enabled.
func (s *Sampler) IsEnabled() bool {
	return s.config.Enabled && s.config.Rate > 1
}

// EffectiveRate returns the actual sampling rate being used.
// Returns 1 if sampling is disabled.
func (s *Sampler) EffectiveRate() uint64 {
	if !s.IsEnabled() {
		return 1
	}
	return s.config.Rate
}
