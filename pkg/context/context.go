package context

import "context"

type ContextKey string

var (
	RequestIDKey = ContextKey("X-Request-Id")
	MethodKey    = ContextKey("X-Method")
	RouteKey     = ContextKey("X-Route")
	RemoteIPKey  = ContextKey("X-Remote-Ip")
	CrawlIDKey   = ContextKey("X-Crawl-Id")
	SourceURLKey = ContextKey("X-Source-Url")
)

func getString(ctx context.Context, key ContextKey) string {
	value, ok := ctx.Value(key).(string)
	if !ok {
		return ""
	}
	return value
}

func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func GetRequestID(ctx context.Context) string {
	return getString(ctx, RequestIDKey)
}

func SetMethod(ctx context.Context, method string) context.Context {
	return context.WithValue(ctx, MethodKey, method)
}

func GetMethod(ctx context.Context) string {
	return getString(ctx, MethodKey)
}

func SetRoute(ctx context.Context, route string) context.Context {
	return context.WithValue(ctx, RouteKey, route)
}

func GetRoute(ctx context.Context) string {
	return getString(ctx, RouteKey)
}

func SetRemoteIP(ctx context.Context, remoteIP string) context.Context {
	return context.WithValue(ctx, RemoteIPKey, remoteIP)
}

func GetRemoteIP(ctx context.Context) string {
	return getString(ctx, RemoteIPKey)
}

// SetCrawlID tags the context with the crawl job being ingested so background
// pipeline logs can be correlated with the webhook that scheduled them.
func SetCrawlID(ctx context.Context, crawlID string) context.Context {
	return context.WithValue(ctx, CrawlIDKey, crawlID)
}

func GetCrawlID(ctx context.Context) string {
	return getString(ctx, CrawlIDKey)
}

func SetSourceURL(ctx context.Context, url string) context.Context {
	return context.WithValue(ctx, SourceURLKey, url)
}

func GetSourceURL(ctx context.Context) string {
	return getString(ctx, SourceURLKey)
}

// Fields returns the request-scoped values that are set, keyed for logging.
func Fields(ctx context.Context) map[string]interface{} {
	fields := map[string]interface{}{}
	for key, name := range map[ContextKey]string{
		RequestIDKey: "request_id",
		CrawlIDKey:   "crawl_id",
		SourceURLKey: "source_url",
	} {
		if v := getString(ctx, key); v != "" {
			fields[name] = v
		}
	}
	return fields
}

// Detach returns a background context carrying the request-scoped values of ctx
// but none of its deadline or cancellation.
func Detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}
