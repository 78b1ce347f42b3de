package places

import (
	"time"

	"golang.org/x/time/rate"
)

// newPagePacer spaces continuation requests: the first Wait returns at
// once, each later one at least delay after the previous. The provider
// rejects a continuation token used too soon after it was issued.
func newPagePacer(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}
