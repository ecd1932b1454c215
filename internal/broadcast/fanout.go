package broadcast

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	kit "gatebot/internal/transport"
	"gatebot/pkg/logx"
)

// DefaultRatePerSec matches Telegram's guidance for bulk sends to
// distinct private chats.
const DefaultRatePerSec = 20

// Report is the fan-out outcome. Sent+Failed equals the number of
// recipients attempted.
type Report struct {
	Sent   int
	Failed int
}

// Fanout delivers a finished draft to a recipient list, one at a time,
// behind a rate limiter. Delivery is best-effort: a failed recipient is
// counted and skipped, never retried.
type Fanout struct {
	adapter kit.Adapter
	limiter *rate.Limiter
	log     logx.Logger
}

func NewFanout(adapter kit.Adapter, ratePerSec float64, log logx.Logger) *Fanout {
	if ratePerSec <= 0 {
		ratePerSec = DefaultRatePerSec
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Fanout{
		adapter: adapter,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), 1),
		log:     log,
	}
}

// SetRate adjusts the send rate (config hot reload).
func (f *Fanout) SetRate(ratePerSec float64) {
	if ratePerSec <= 0 {
		ratePerSec = DefaultRatePerSec
	}
	f.limiter.SetLimit(rate.Limit(ratePerSec))
}

// Run attempts every recipient even when some fail. It stops early only on
// context cancellation, returning the partial report.
func (f *Fanout) Run(ctx context.Context, recipients []int64, d *Draft) Report {
	start := time.Now()
	var rep Report
	for _, id := range recipients {
		if err := f.limiter.Wait(ctx); err != nil {
			f.log.Warn("broadcast cancelled mid-run",
				logx.Int("sent", rep.Sent), logx.Int("failed", rep.Failed), logx.Err(err))
			return rep
		}
		if err := deliver(ctx, f.adapter, kit.UserTarget(id), d); err != nil {
			rep.Failed++
			f.log.Warn("broadcast delivery failed", logx.Int64("chat_id", id), logx.Err(err))
			continue
		}
		rep.Sent++
	}

	fields := []logx.Field{
		logx.Int("total", len(recipients)),
		logx.Int("failed", rep.Failed),
		logx.Duration("dur", time.Since(start)),
	}
	if rep.Failed > 0 {
		f.log.Warn("broadcast finished with failures", fields...)
	} else {
		f.log.Info("broadcast finished", fields...)
	}
	return rep
}
