package authcore

import "context"

type clientIPContextKey struct{}
type userAgentContextKey struct{}
type acceptLanguageContextKey struct{}
type requestOriginContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The Engine uses it
// for login throttling, device registration and audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx. It is one of the
// two inputs of the device fingerprint.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

// WithAcceptLanguage attaches the Accept-Language header to ctx.
func WithAcceptLanguage(ctx context.Context, lang string) context.Context {
	return context.WithValue(ctx, acceptLanguageContextKey{}, lang)
}

// WithRequestOrigin attaches the request Origin header to ctx. Outside
// production mode it selects the WebAuthn relying party.
func WithRequestOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, requestOriginContextKey{}, origin)
}

func clientIPFromContext(ctx context.Context) string {
	return stringFromContext(ctx, clientIPContextKey{})
}

func userAgentFromContext(ctx context.Context) string {
	return stringFromContext(ctx, userAgentContextKey{})
}

func acceptLanguageFromContext(ctx context.Context) string {
	return stringFromContext(ctx, acceptLanguageContextKey{})
}

func requestOriginFromContext(ctx context.Context) string {
	return stringFromContext(ctx, requestOriginContextKey{})
}

func stringFromContext(ctx context.Context, key any) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}
