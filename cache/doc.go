// Package cache provides the TTL key-value store behind WebAuthn challenges and
// the GeoIP response cache.
//
// [Memory] keeps entries in process and loses them on restart; it is only
// correct for a single instance. [Redis] shares entries across instances.
// Both implement [Store], so call sites do not change between deployments.
package cache
