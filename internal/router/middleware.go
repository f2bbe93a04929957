package router

import (
	"context"
	"fmt"
	"time"

	"raidbot/internal/command"
	logx "raidbot/pkg/logx"
)

type Middleware func(next command.HandlerFunc) command.HandlerFunc

func Chain(h command.HandlerFunc, m ...Middleware) command.HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next command.HandlerFunc) command.HandlerFunc {
		return func(ctx context.Context, req *command.Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover() Middleware {
	return func(next command.HandlerFunc) command.HandlerFunc {
		return func(ctx context.Context, req *command.Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					req.Log.Error("panic recovered",
						logx.Any("panic", r),
						logx.Stack(logx.StackTrace(4, 24)),
					)
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog() Middleware {
	return func(next command.HandlerFunc) command.HandlerFunc {
		return func(ctx context.Context, req *command.Request) error {
			start := time.Now()
			err := next(ctx, req)
			d := time.Since(start)

			fields := []logx.Field{logx.Duration("dur", d), logx.Bool("scheduled", req.Scheduled)}
			switch {
			case err == nil && d >= 750*time.Millisecond:
				req.Log.Info("request ok", fields...)
			case err == nil:
				req.Log.Debug("request ok", fields...)
			default:
				if msg, ok := command.UserMessage(err); ok {
					req.Log.Debug("request rejected", append(fields, logx.String("reason", msg))...)
				} else {
					req.Log.Warn("request failed", append(fields, logx.Err(err))...)
				}
			}
			return err
		}
	}
}
