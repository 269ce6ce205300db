package core

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// RequestIDKey is a custom context key type for storing the request ID in context.
type RequestIDKey struct{}

// StoreKey is a custom context key type for storing the CredentialStore in context.
type StoreKey struct{}

// ResolverKey is a custom context key type for storing the SessionResolver in context.
type ResolverKey struct{}

// WithRequestID returns a new context with a generated request ID set.
func WithRequestID(ctx context.Context) context.Context {
	return WithRequestIDValue(ctx, uuid.New().String())
}

// WithRequestIDValue returns a new context carrying the given request ID.
func WithRequestIDValue(ctx context.Context, reqID string) context.Context {
	return context.WithValue(ctx, RequestIDKey{}, reqID)
}

// RequestIDFromContext returns the request ID, or "" when none is set.
func RequestIDFromContext(ctx context.Context) string {
	reqID, _ := ctx.Value(RequestIDKey{}).(string)
	return reqID
}

// LoggerFromCtx returns a slog.Logger with request_id field if present in context.
// If no request ID is found, it returns the default logger.
func LoggerFromCtx(ctx context.Context) *slog.Logger {
	if reqID := RequestIDFromContext(ctx); reqID != "" {
		return slog.Default().With("request_id", reqID)
	}
	return slog.Default()
}

// WithStore returns a new context with the provided CredentialStore set.
func WithStore(ctx context.Context, store CredentialStore) context.Context {
	return context.WithValue(ctx, StoreKey{}, store)
}

// StoreFromContext retrieves the CredentialStore from the context.
func StoreFromContext(ctx context.Context) (CredentialStore, error) {
	store, ok := ctx.Value(StoreKey{}).(CredentialStore)
	if !ok {
		return nil, fmt.Errorf("missing credential store")
	}
	return store, nil
}

// WithResolver returns a new context with the provided SessionResolver set.
func WithResolver(ctx context.Context, resolver SessionResolver) context.Context {
	return context.WithValue(ctx, ResolverKey{}, resolver)
}

// ResolverFromContext retrieves the SessionResolver from the context.
func ResolverFromContext(ctx context.Context) (SessionResolver, error) {
	resolver, ok := ctx.Value(ResolverKey{}).(SessionResolver)
	if !ok {
		return nil, fmt.Errorf("missing session resolver")
	}
	return resolver, nil
}
