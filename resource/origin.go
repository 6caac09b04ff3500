package resource

import "context"

// UnknownOrigin is recorded in the access log when the caller is not known.
const UnknownOrigin = "unknown"

type originKey struct{}

// WithOrigin returns a context carrying the client origin for access logging.
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, originKey{}, origin)
}

// OriginFrom returns the client origin carried by ctx, or UnknownOrigin.
func OriginFrom(ctx context.Context) string {
	if origin, ok := ctx.Value(originKey{}).(string); ok && origin != "" {
		return origin
	}
	return UnknownOrigin
}
