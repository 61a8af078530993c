package lifecycle

import (
	"context"
	"sync"
	"sync/atomic"
)

// Check reports whether a dependency can serve traffic.
type Check func(ctx context.Context) error

// Lifecycle is process state shared across handlers: the draining flag set
// during graceful shutdown and the readiness checks behind /readyz.
type Lifecycle struct {
	draining atomic.Bool

	mu     sync.Mutex
	names  []string
	checks []Check
}

func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.draining.Store(draining)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}

func (l *Lifecycle) AddCheck(name string, check Check) {
	if l == nil || check == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.names = append(l.names, name)
	l.checks = append(l.checks, check)
}

// Ready runs every check in registration order and returns one issue per
// failing check.
func (l *Lifecycle) Ready(ctx context.Context) []string {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	names := append([]string(nil), l.names...)
	checks := append([]Check(nil), l.checks...)
	l.mu.Unlock()

	var issues []string
	if l.IsDraining() {
		issues = append(issues, "draining")
	}
	for i, check := range checks {
		if err := check(ctx); err != nil {
			issues = append(issues, names[i]+": "+err.Error())
		}
	}
	return issues
}
