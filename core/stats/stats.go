// Package stats tracks bridge throughput with lock-free counters.
package stats

import (
	"math"
	"sync/atomic"
	"time"
)

// DefaultMinInterval is the shortest period over which rates are computed.
const DefaultMinInterval = 500 * time.Millisecond

// Config configures a Stats tracker.
type Config struct {
	// MinInterval limits how often UpdateRates recomputes. Calls inside the
	// interval return the cached rates. Default: 500ms.
	MinInterval time.Duration
}

// Rates holds throughput in bytes per second.
type Rates struct {
	Tx float64
	Rx float64
}

// Snapshot is a plain-value copy of the counters and the cached rates.
type Snapshot struct {
	TxBytes uint64
	RxBytes uint64
	Rates
}

// Stats counts bytes sent to the controller (tx) and received from it (rx).
// All methods are safe for concurrent use.
type Stats struct {
	cfg Config

	txBytes atomic.Uint64
	rxBytes atomic.Uint64

	// Counter values at the last rate calculation.
	lastTx atomic.Uint64
	lastRx atomic.Uint64
	// lastCalc is the unix-nano time of the last rate calculation. The
	// updater that swaps it owns the next calculation.
	lastCalc atomic.Int64

	// Cached rates stored as float64 bits.
	txRate atomic.Uint64
	rxRate atomic.Uint64

	// nowFn allows overriding time.Now() for testing.
	nowFn func() time.Time
}

// New creates a Stats tracker.
func New(cfg Config) *Stats {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultMinInterval
	}
	s := &Stats{cfg: cfg, nowFn: time.Now}
	s.lastCalc.Store(s.nowFn().UnixNano())
	return s
}

// AddTx records n bytes sent to the controller.
func (s *Stats) AddTx(n int) {
	if n > 0 {
		s.txBytes.Add(uint64(n))
	}
}

// AddRx records n bytes received from the controller.
func (s *Stats) AddRx(n int) {
	if n > 0 {
		s.rxBytes.Add(uint64(n))
	}
}

// TxBytes returns the total bytes sent.
func (s *Stats) TxBytes() uint64 { return s.txBytes.Load() }

// RxBytes returns the total bytes received.
func (s *Stats) RxBytes() uint64 { return s.rxBytes.Load() }

// Rates returns the cached rates without recomputing.
func (s *Stats) Rates() Rates {
	return Rates{
		Tx: math.Float64frombits(s.txRate.Load()),
		Rx: math.Float64frombits(s.rxRate.Load()),
	}
}

// UpdateRates recomputes rates if at least MinInterval has passed since the
// last calculation. Only one concurrent caller wins the calculation; the
// rest, and callers inside the interval, get the cached rates.
func (s *Stats) UpdateRates() Rates {
	now := s.nowFn().UnixNano()
	last := s.lastCalc.Load()
	elapsed := time.Duration(now - last)
	if elapsed < s.cfg.MinInterval {
		return s.Rates()
	}
	if !s.lastCalc.CompareAndSwap(last, now) {
		return s.Rates()
	}

	secs := elapsed.Seconds()
	tx := s.txBytes.Load()
	rx := s.rxBytes.Load()
	prevTx := s.lastTx.Swap(tx)
	prevRx := s.lastRx.Swap(rx)

	r := Rates{
		Tx: float64(tx-prevTx) / secs,
		Rx: float64(rx-prevRx) / secs,
	}
	s.txRate.Store(math.Float64bits(r.Tx))
	s.rxRate.Store(math.Float64bits(r.Rx))
	return r
}

// Snapshot returns a point-in-time copy of counters and cached rates.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		TxBytes: s.txBytes.Load(),
		RxBytes: s.rxBytes.Load(),
		Rates:   s.Rates(),
	}
}

// Reset zeroes all counters and rates.
func (s *Stats) Reset() {
	s.txBytes.Store(0)
	s.rxBytes.Store(0)
	s.lastTx.Store(0)
	s.lastRx.Store(0)
	s.txRate.Store(0)
	s.rxRate.Store(0)
	s.lastCalc.Store(s.nowFn().UnixNano())
}
