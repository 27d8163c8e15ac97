package profile

import (
	"context"
	"errors"
)

// Key for profile ID in context
type contextKey string

const (
	profileIDKey contextKey = "profileID"
	requestIDKey contextKey = "requestID"
)

// Default is the sentinel profile tag used when a caller has no explicit
// connection-profile context.
const Default = "default"

// ErrProfileIDNotFound is returned when no profile ID is found in context
var ErrProfileIDNotFound = errors.New("profile ID not found in context")

// WithProfileID adds a profile ID to the context
func WithProfileID(ctx context.Context, profileID string) context.Context {
	return context.WithValue(ctx, profileIDKey, profileID)
}

// FromContext extracts the profile ID from the context
func FromContext(ctx context.Context) (string, error) {
	profileID, ok := ctx.Value(profileIDKey).(string)
	if !ok || profileID == "" {
		return "", ErrProfileIDNotFound
	}
	return profileID, nil
}

// FromContextOrDefault extracts the profile ID from the context, falling back
// to the Default sentinel when the context carries none.
func FromContextOrDefault(ctx context.Context) string {
	profileID, err := FromContext(ctx)
	if err != nil {
		return Default
	}
	return profileID
}

// MustFromContext extracts the profile ID from the context or panics
func MustFromContext(ctx context.Context) string {
	profileID, err := FromContext(ctx)
	if err != nil {
		panic(err)
	}
	return profileID
}

// ErrNoRequestIDInContext is returned when no request ID is found in context
var ErrNoRequestIDInContext = errors.New("no request ID found in context")

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// FromRequestIDContext extracts the request ID from the context
func FromRequestIDContext(ctx context.Context) (string, error) {
	requestID, ok := ctx.Value(requestIDKey).(string)
	if !ok || requestID == "" {
		return "", ErrNoRequestIDInContext
	}
	return requestID, nil
}
