package telemetry

import (
	"context"
	"net/http"
)

type contextKey string

const (
	// requestTagsKey is the context key for request tags holder.
	requestTagsKey contextKey = "request_tags"
	// resourceKey is the context key for propagating the resource to background goroutines.
	resourceKey contextKey = "resource"
)

// CacheResult represents the outcome of a cache lookup.
type CacheResult string

const (
	CacheHit      CacheResult = "hit"
	CacheMiss     CacheResult = "miss"
	CacheBypass   CacheResult = "bypass"
	CacheFallback CacheResult = "fallback"
)

// RequestTags holds mutable request metadata that handlers can set for logging.
type RequestTags struct {
	Resource    string
	CacheResult CacheResult
	Endpoint    string
	Degraded    bool
}

// InjectTags creates a new request with an empty RequestTags in context.
// Call this in middleware before handlers run.
func InjectTags(r *http.Request) *http.Request {
	tags := &RequestTags{CacheResult: CacheBypass}
	return r.WithContext(context.WithValue(r.Context(), requestTagsKey, tags))
}

// GetTags retrieves the request tags from context.
// Returns nil if not in a request context with logging middleware.
func GetTags(r *http.Request) *RequestTags {
	if tags, ok := r.Context().Value(requestTagsKey).(*RequestTags); ok {
		return tags
	}
	return nil
}

// SetCacheResult sets the cache result for logging.
func SetCacheResult(r *http.Request, result CacheResult) {
	if tags := GetTags(r); tags != nil {
		tags.CacheResult = result
	}
}

// SetResource sets the upstream resource tag for metrics and logging.
func SetResource(r *http.Request, resource string) {
	if tags := GetTags(r); tags != nil {
		tags.Resource = resource
	}
}

// SetEndpoint sets the endpoint type for logging.
func SetEndpoint(r *http.Request, endpoint string) {
	if tags := GetTags(r); tags != nil {
		tags.Endpoint = endpoint
	}
}

// SetDegraded marks the response as served from degraded (fallback) data.
func SetDegraded(r *http.Request) {
	if tags := GetTags(r); tags != nil {
		tags.Degraded = true
		tags.CacheResult = CacheFallback
	}
}

// ResourceFromContext retrieves the resource name from a context.
// It checks both background contexts (set by WithResourceContext) and
// request contexts (set by SetResource via InjectTags).
func ResourceFromContext(ctx context.Context) string {
	if p, ok := ctx.Value(resourceKey).(string); ok && p != "" {
		return p
	}
	if tags, ok := ctx.Value(requestTagsKey).(*RequestTags); ok && tags != nil {
		return tags.Resource
	}
	return ""
}

// WithResourceContext returns a context with the resource name stored.
// Use this to propagate the resource into goroutines that outlive the request context.
func WithResourceContext(ctx context.Context, resource string) context.Context {
	return context.WithValue(ctx, resourceKey, resource)
}
