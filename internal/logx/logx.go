package logx

import (
	"context"

	"pkt.systems/pslog"
	"pkt.systems/vtgrid/schema"
)

type contextKey int

const (
	sessionKey contextKey = iota
	flowKey
)

// Ctx returns the logger bound to the provided context.
func Ctx(ctx context.Context) pslog.Logger {
	return pslog.Ctx(ctx)
}

// WithSession annotates the logger with the session id if present.
func WithSession(ctx context.Context, sessionID schema.SessionID) pslog.Logger {
	log := pslog.Ctx(ctx)
	if sessionID != "" {
		if current, ok := ctx.Value(sessionKey).(schema.SessionID); ok && current == sessionID {
			return log
		}
		log = log.With("session", sessionID)
	}
	return log
}

// WithSessionFlow annotates the logger with session and flow identifiers.
func WithSessionFlow(ctx context.Context, sessionID schema.SessionID, flow schema.FlowName) pslog.Logger {
	log := WithSession(ctx, sessionID)
	if flow != "" {
		if current, ok := ctx.Value(flowKey).(schema.FlowName); ok && current == flow {
			return log
		}
		log = log.With("flow", flow)
	}
	return log
}

// WithFilter annotates the logger with a filter name when available.
func WithFilter(log pslog.Logger, name schema.FilterName) pslog.Logger {
	if name != "" {
		log = log.With("filter", name)
	}
	return log
}

// ContextWithSession stores the session marker on the context for log de-duplication.
func ContextWithSession(ctx context.Context, sessionID schema.SessionID) context.Context {
	if ctx == nil || sessionID == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionKey, sessionID)
}

// ContextWithFlow stores the flow marker on the context for log de-duplication.
func ContextWithFlow(ctx context.Context, flow schema.FlowName) context.Context {
	if ctx == nil || flow == "" {
		return ctx
	}
	return context.WithValue(ctx, flowKey, flow)
}

// ContextWithSessionFlow stores session/flow markers on the context for log de-duplication.
func ContextWithSessionFlow(ctx context.Context, sessionID schema.SessionID, flow schema.FlowName) context.Context {
	return ContextWithFlow(ContextWithSession(ctx, sessionID), flow)
}

// ContextWithSessionLogger attaches the logger and session marker to the context.
func ContextWithSessionLogger(ctx context.Context, log pslog.Logger, sessionID schema.SessionID) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithSession(ctx, sessionID)
}

// ContextWithSessionFlowLogger attaches the logger and session/flow markers to the context.
func ContextWithSessionFlowLogger(ctx context.Context, log pslog.Logger, sessionID schema.SessionID, flow schema.FlowName) context.Context {
	ctx = pslog.ContextWithLogger(ctx, log)
	return ContextWithSessionFlow(ctx, sessionID, flow)
}

// CopyContextFields copies session/flow markers from src to dst.
func CopyContextFields(dst context.Context, src context.Context) context.Context {
	if src == nil {
		return dst
	}
	if session, ok := src.Value(sessionKey).(schema.SessionID); ok && session != "" {
		dst = ContextWithSession(dst, session)
	}
	if flow, ok := src.Value(flowKey).(schema.FlowName); ok && flow != "" {
		dst = ContextWithFlow(dst, flow)
	}
	return dst
}
