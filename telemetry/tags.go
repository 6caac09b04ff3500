// Package telemetry provides request tagging for structured logging and metrics.
package telemetry

import (
	"context"
	"net/http"
)

type contextKey string

// requestTagsKey is the context key for request tags holder.
const requestTagsKey contextKey = "request_tags"

// Result is the outcome of the resource lookup behind a request.
type Result string

const (
	ResultFound    Result = "found"
	ResultNotFound Result = "not_found"
	ResultStored   Result = "stored"
	ResultDeleted  Result = "deleted"
	ResultInvalid  Result = "invalid"
	ResultNA       Result = "na"
)

// RequestTags holds mutable request metadata that handlers can set for logging.
type RequestTags struct {
	Endpoint   string
	ResourceID string
	Result     Result
}

// InjectTags creates a new request with an empty RequestTags in context.
// Call this in middleware before handlers run.
func InjectTags(r *http.Request) *http.Request {
	tags := &RequestTags{Result: ResultNA}
	return r.WithContext(context.WithValue(r.Context(), requestTagsKey, tags))
}

// GetTags retrieves the request tags from context.
// Returns nil if not in a request context with logging middleware.
func GetTags(r *http.Request) *RequestTags {
	return TagsFromContext(r.Context())
}

// TagsFromContext retrieves the request tags from ctx, or nil.
func TagsFromContext(ctx context.Context) *RequestTags {
	if tags, ok := ctx.Value(requestTagsKey).(*RequestTags); ok {
		return tags
	}
	return nil
}

// SetResult sets the lookup result for logging.
func SetResult(r *http.Request, result Result) {
	if tags := GetTags(r); tags != nil {
		tags.Result = result
	}
}

// SetEndpoint sets the endpoint name for logging and the detail metric.
func SetEndpoint(r *http.Request, endpoint string) {
	if tags := GetTags(r); tags != nil {
		tags.Endpoint = endpoint
	}
}

// SetResourceID records which resource the request addressed.
func SetResourceID(r *http.Request, id string) {
	if tags := GetTags(r); tags != nil {
		tags.ResourceID = id
	}
}
