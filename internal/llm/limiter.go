package llm

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter spaces remote calls; a nil Limiter never blocks.
type Limiter struct {
	rl *rate.Limiter
}

// NewLimiter allows perSecond requests with a burst of one. perSecond <= 0
// disables limiting.
func NewLimiter(perSecond float64) *Limiter {
	if perSecond <= 0 {
		return nil
	}
	return &Limiter{rl: rate.NewLimiter(rate.Every(time.Duration(float64(time.Second)/perSecond)), 1)}
}

func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil || l.rl == nil {
		return nil
	}
	return l.rl.Wait(ctx)
}
