package router

import (
	"context"
	"fmt"
	"time"

	"quotebot/internal/storage"
	logx "quotebot/pkg/logx"
)

type Middleware func(next HandlerFunc) HandlerFunc

// AuditFunc persists one audit entry; failures are the callee's to log.
type AuditFunc func(ctx context.Context, e storage.AuditEntry)

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger := log
					if !req.Logger.IsZero() {
						logger = req.Logger
					}
					logger.Error("panic recovered", logx.Any("panic", r), logx.Stack(logx.StackTrace(3, 24)))
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			logger := log
			if !req.Logger.IsZero() {
				logger = req.Logger
			}
			err := next(ctx, req)
			d := time.Since(start)

			fields := []logx.Field{
				logx.String("kind", string(req.Update.Kind)),
				logx.Duration("dur", d),
			}
			switch {
			case err != nil:
				logger.Warn("request failed", append(fields, logx.Err(err))...)
			case d >= 750*time.Millisecond:
				logger.Info("request ok", fields...)
			default:
				logger.Debug("request ok", fields...)
			}
			return err
		}
	}
}

// MWAudit records who ran what, the outcome and the duration.
func MWAudit(audit AuditFunc) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			e := storage.AuditEntry{
				At:            start,
				ActorID:       req.FromID,
				ActorUsername: req.FromUsername,
				Action:        req.Command,
				Target:        req.Payload,
				OK:            err == nil,
				TookMS:        time.Since(start).Milliseconds(),
			}
			if err != nil {
				e.Error = err.Error()
			}
			audit(context.WithoutCancel(ctx), e)
			return err
		}
	}
}
