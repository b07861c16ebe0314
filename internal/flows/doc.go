// Package flows holds engine flows that are independent of the root package
// types: refresh rotation with replay detection and recovery-code handling.
// Dependencies arrive as function fields so the flows can be tested without a
// store.
package flows
