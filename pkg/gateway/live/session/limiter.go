package session

import "time"

// bucket is a token bucket refilled continuously at rate tokens per second.
type bucket struct {
	rate   float64
	max    float64
	tokens float64
}

func newBucket(rate float64, burst time.Duration) bucket {
	max := rate * burst.Seconds()
	return bucket{rate: rate, max: max, tokens: max}
}

func (b *bucket) refill(elapsed time.Duration) {
	if b.rate <= 0 {
		return
	}
	b.tokens += b.rate * elapsed.Seconds()
	if b.tokens > b.max {
		b.tokens = b.max
	}
}

func (b *bucket) has(n float64) bool { return b.rate <= 0 || b.tokens >= n }

func (b *bucket) take(n float64) {
	if b.rate > 0 {
		b.tokens -= n
	}
}

// audioLimiter caps inbound audio by frames per second and bytes per second.
// A nil limiter allows everything.
type audioLimiter struct {
	now    func() time.Time
	frames bucket
	bytes  bucket
	last   time.Time
}

func newAudioLimiter(now func() time.Time, fps int, bps int64, burst time.Duration) *audioLimiter {
	if fps <= 0 && bps <= 0 {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	if burst <= 0 {
		burst = time.Second
	}
	return &audioLimiter{
		now:    now,
		frames: newBucket(float64(fps), burst),
		bytes:  newBucket(float64(bps), burst),
		last:   now(),
	}
}

func (l *audioLimiter) Allow(size int) bool {
	if l == nil {
		return true
	}
	now := l.now()
	if elapsed := now.Sub(l.last); elapsed > 0 {
		l.frames.refill(elapsed)
		l.bytes.refill(elapsed)
		l.last = now
	}
	if size < 0 {
		size = 0
	}
	if !l.frames.has(1) || !l.bytes.has(float64(size)) {
		return false
	}
	l.frames.take(1)
	l.bytes.take(float64(size))
	return true
}
