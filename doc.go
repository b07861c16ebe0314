// Package authcore is the authentication and session-security core of the
// backend: password login, one-time refresh token rotation with replay
// detection, TOTP two-factor authentication, device trust with email
// confirmation, and WebAuthn passkeys.
//
// Engine methods are safe to call from multiple goroutines once the Engine is
// built through [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config],
// the [Store] interfaces it consumes and the value types it returns.
// Flow orchestration, audit dispatch and rate limiting live under internal/.
// Persistence is implemented by store/postgres and HTTP by transport/httpapi;
// neither is imported from here.
//
// # Request metadata
//
// Client IP, User-Agent, Accept-Language and Origin travel in the context
// ([WithClientIP], [WithUserAgent], [WithAcceptLanguage], [WithRequestOrigin]).
// They feed the login limiter, device fingerprints, audit events and the
// WebAuthn relying party.
//
// # Failure reporting
//
// Callers get coarse sentinel errors ([ErrInvalidCredentials],
// [ErrUnauthorized], ...). The detailed reason goes to the audit sink.
// GeoIP and mail failures are logged and never fail the enclosing operation.
package authcore
