package app

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	kit "gatebot/internal/transport"
	"gatebot/pkg/logx"
)

type handlerFunc func(ctx context.Context, u *kit.Update) error

type middleware func(next handlerFunc) handlerFunc

func chain(h handlerFunc, m ...middleware) handlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func mwTimeout(d time.Duration) middleware {
	return func(next handlerFunc) handlerFunc {
		return func(ctx context.Context, u *kit.Update) error {
			if d <= 0 {
				return next(ctx, u)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, u)
		}
	}
}

func mwPanicRecover(log logx.Logger) middleware {
	return func(next handlerFunc) handlerFunc {
		return func(ctx context.Context, u *kit.Update) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("panic recovered",
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, u)
		}
	}
}

func mwRequestLog(log logx.Logger) middleware {
	return func(next handlerFunc) handlerFunc {
		return func(ctx context.Context, u *kit.Update) error {
			start := time.Now()
			err := next(ctx, u)
			d := time.Since(start)

			fields := []logx.Field{
				logx.String("kind", string(u.Kind)),
				logx.Int64("from_id", updateFrom(u)),
				logx.Duration("dur", d),
			}
			if err != nil {
				log.Warn("update failed", append(fields, logx.Err(err))...)
			} else {
				log.Debug("update handled", fields...)
			}
			return err
		}
	}
}

func updateFrom(u *kit.Update) int64 {
	switch u.Kind {
	case kit.UpdateMessage:
		return u.Message.FromID
	case kit.UpdateCallback:
		return u.Callback.FromID
	case kit.UpdateJoinRequest:
		return u.JoinRequest.UserID
	}
	return 0
}

// dispatchLoop fans updates out to a bounded worker pool so one slow
// handler (e.g. a welcome sequence with its pauses) cannot stall the feed.
func (a *App) dispatchLoop(ctx context.Context, updates <-chan kit.Update, workers int) {
	if workers <= 0 {
		workers = 8
	}
	sem := make(chan struct{}, workers)
	h := chain(a.route,
		mwPanicRecover(a.log),
		mwRequestLog(a.log),
	)

	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			a.wg.Add(1)
			go func(u kit.Update) {
				defer a.wg.Done()
				defer func() { <-sem }()
				_ = h(ctx, &u)
			}(u)
		}
	}
}
