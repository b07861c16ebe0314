// Package jwt signs and verifies the three token kinds used by authcore: access tokens,
// refresh tokens (carrying the family id and jti) and device action tokens embedded in
// security alert emails. Each kind carries a purpose claim and is only accepted by its
// own parser.
package jwt
