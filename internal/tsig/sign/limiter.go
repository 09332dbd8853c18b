package sign

import (
	"sync/atomic"

	"github.com/quorsig/quorsig/pkg/metrics"
)

// Limiter caps concurrent signing sessions on one node. A zero or negative
// max disables the cap.
type Limiter struct {
	max  int64
	open int64
}

func NewLimiter(max int64) *Limiter { return &Limiter{max: max} }

// TryOpen reserves a session slot; at the cap it records the rate-limit
// metric and refuses.
func (l *Limiter) TryOpen() bool {
	if l == nil || l.max <= 0 {
		return true
	}
	for {
		o := atomic.LoadInt64(&l.open)
		if o >= l.max {
			metrics.Inc("tsig_rate_limited_total", map[string]string{"kind": "sign_session"})
			return false
		}
		if atomic.CompareAndSwapInt64(&l.open, o, o+1) {
			metrics.AddGauge("tsig_sessions_open", nil, 1)
			return true
		}
	}
}

// Close releases a previously reserved slot.
func (l *Limiter) Close() {
	if l == nil || l.max <= 0 {
		return
	}
	for {
		o := atomic.LoadInt64(&l.open)
		if o <= 0 {
			return
		}
		if atomic.CompareAndSwapInt64(&l.open, o, o-1) {
			metrics.AddGauge("tsig_sessions_open", nil, -1)
			return
		}
	}
}
