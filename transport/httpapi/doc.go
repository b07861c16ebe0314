// Package httpapi exposes the engine over HTTP with gin.
//
// Routes live under /api/v1. Authenticated routes expect an access token in
// the Authorization header as "Bearer <token>". Error bodies carry only the
// generic message of the matching engine error.
package httpapi
