// Package logx binds switcher identifiers (client, tab, gesture) to pslog
// loggers carried on a context.
package logx

import (
	"context"

	"github.com/b/tabflip/pkg/tabs"
	"pkt.systems/pslog"
)

type contextKey int

const (
	clientKey contextKey = iota
	gestureKey
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// Or returns logger, or the context-free default logger when it is nil.
func Or(logger pslog.Logger) pslog.Logger {
	if logger != nil {
		return logger
	}
	return pslog.Ctx(context.Background())
}

// WithClient annotates the logger with the socket client id if present.
func WithClient(ctx context.Context, clientID string) pslog.Logger {
	log := pslog.Ctx(ctx)
	if clientID == "" {
		return log
	}
	if current, ok := ctx.Value(clientKey).(string); ok && current == clientID {
		return log
	}
	return log.With("client", clientID)
}

// WithTab annotates log with a tab id when available.
func WithTab(log pslog.Logger, id tabs.ID) pslog.Logger {
	if id != "" {
		log = log.With("tab", id)
	}
	return log
}

// WithGesture annotates the context logger with the gesture generation.
func WithGesture(ctx context.Context, gen uint64) pslog.Logger {
	log := pslog.Ctx(ctx)
	if gen == 0 {
		return log
	}
	if current, ok := ctx.Value(gestureKey).(uint64); ok && current == gen {
		return log
	}
	return log.With("gesture", gen)
}

// ContextWithClient stores the client marker and an annotated logger on ctx.
func ContextWithClient(ctx context.Context, clientID string) context.Context {
	if ctx == nil || clientID == "" {
		return ctx
	}
	log := WithClient(ctx, clientID)
	ctx = pslog.ContextWithLogger(ctx, log)
	return context.WithValue(ctx, clientKey, clientID)
}

// ContextWithGesture stores the gesture marker and an annotated logger on ctx.
func ContextWithGesture(ctx context.Context, gen uint64) context.Context {
	if ctx == nil || gen == 0 {
		return ctx
	}
	log := WithGesture(ctx, gen)
	ctx = pslog.ContextWithLogger(ctx, log)
	return context.WithValue(ctx, gestureKey, gen)
}
