package resilience

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrHostOpen is returned when a host's breaker is rejecting fetches.
var ErrHostOpen = eris.New("host circuit open")

// BreakerConfig controls per-host circuit breaking.
type BreakerConfig struct {
	// FailureThreshold consecutive failures open the breaker. Zero disables
	// breaking.
	FailureThreshold int
	// Cooldown is how long an open breaker rejects fetches before letting a
	// single probe through.
	Cooldown time.Duration
}

type hostState struct {
	failures int
	openedAt time.Time
	open     bool
	probing  bool
}

// HostBreakers tracks consecutive fetch failures per host so a dead or
// blocking site fails fast instead of waiting out every timeout.
type HostBreakers struct {
	cfg BreakerConfig

	mu    sync.Mutex
	hosts map[string]*hostState

	now func() time.Time
}

// NewHostBreakers creates a breaker registry. A nil *HostBreakers allows
// every fetch.
func NewHostBreakers(cfg BreakerConfig) *HostBreakers {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &HostBreakers{cfg: cfg, hosts: make(map[string]*hostState), now: time.Now}
}

// Allow returns ErrHostOpen while host's breaker is open. Once the cooldown
// has passed one caller is let through as a probe.
func (b *HostBreakers) Allow(host string) error {
	if b == nil || b.cfg.FailureThreshold <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.hosts[host]
	if st == nil || !st.open {
		return nil
	}
	if st.probing || b.now().Sub(st.openedAt) < b.cfg.Cooldown {
		return eris.Wrapf(ErrHostOpen, "host %s", host)
	}
	st.probing = true
	return nil
}

// Record reports the outcome of a fetch against host.
func (b *HostBreakers) Record(host string, err error) {
	if b == nil || b.cfg.FailureThreshold <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.hosts[host]
	if st == nil {
		st = &hostState{}
		b.hosts[host] = st
	}

	if err == nil {
		if st.open {
			zap.L().Info("resilience: host recovered", zap.String("host", host))
		}
		*st = hostState{}
		return
	}

	st.failures++
	st.probing = false
	if st.open || st.failures >= b.cfg.FailureThreshold {
		if !st.open {
			zap.L().Warn("resilience: host circuit opened",
				zap.String("host", host),
				zap.Int("failures", st.failures),
			)
		}
		st.open = true
		st.openedAt = b.now()
	}
}

// Release ends a fetch against host without judging it, as when the caller's
// context was cancelled. A pending probe slot is freed for the next caller.
func (b *HostBreakers) Release(host string) {
	if b == nil || b.cfg.FailureThreshold <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if st := b.hosts[host]; st != nil {
		st.probing = false
	}
}

// Open reports whether host's breaker is currently open.
func (b *HostBreakers) Open(host string) bool {
	if b == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.hosts[host]
	return st != nil && st.open
}
