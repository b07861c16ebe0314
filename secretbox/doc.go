// Package secretbox seals short secrets (TOTP seeds) for storage at rest.
//
// Sealed values are the hex encoding of nonce, GCM tag and ciphertext joined
// with colons. Open fails closed when any part has been tampered with.
package secretbox
