package ratelimit

import (
	"testing"
	"time"
)

func TestAcquireLive_EnforcesConcurrency(t *testing.T) {
	l := New(Config{MaxLiveSessions: 1})
	now := time.Now()

	first := l.AcquireLive("203.0.113.7", now)
	if !first.Allowed || first.Permit == nil {
		t.Fatalf("first allowed=%v permit=%v", first.Allowed, first.Permit)
	}

	second := l.AcquireLive("203.0.113.7", now)
	if second.Allowed {
		t.Fatalf("second should be denied")
	}
	if other := l.AcquireLive("198.51.100.1", now); !other.Allowed {
		t.Fatalf("other clients have their own cap")
	}

	first.Permit.Release()
	first.Permit.Release()
	third := l.AcquireLive("203.0.113.7", now)
	if !third.Allowed {
		t.Fatalf("third should be allowed after release")
	}
	if fourth := l.AcquireLive("203.0.113.7", now); fourth.Allowed {
		t.Fatalf("double release must not free two slots")
	}
}

func TestAllow_BurstThenRefill(t *testing.T) {
	l := New(Config{RPS: 2, Burst: 2})
	now := time.Unix(1_700_000_000, 0)

	for i := 0; i < 2; i++ {
		if d := l.Allow("k", now); !d.Allowed {
			t.Fatalf("request %d denied", i)
		}
	}
	d := l.Allow("k", now)
	if d.Allowed {
		t.Fatalf("third request within burst should be denied")
	}
	if d.RetryAfter < 1 {
		t.Fatalf("RetryAfter=%d", d.RetryAfter)
	}

	if d := l.Allow("k", now.Add(600*time.Millisecond)); !d.Allowed {
		t.Fatalf("token should refill after 600ms at 2 rps")
	}
}

func TestDisabledLimitsAlwaysAllow(t *testing.T) {
	l := New(Config{})
	now := time.Now()
	for i := 0; i < 100; i++ {
		if !l.Allow("k", now).Allowed || !l.AcquireLive("k", now).Allowed {
			t.Fatalf("disabled limiter denied request %d", i)
		}
	}
	var nilLimiter *Limiter
	if !nilLimiter.Allow("k", now).Allowed {
		t.Fatalf("nil limiter should allow")
	}
	nilLimiter.AcquireLive("k", now).Permit.Release()
}
