// Package audit buffers security events and forwards them to a sink off the
// request path.
//
// The package owns buffering and delivery only. Which events exist and when
// they fire is decided by the engine.
package audit
