// Package permcache provides a bounded, TTL-aware cache used to hold resolved
// permission contexts between requests.
//
// Entries are stored in a size-bounded LRU. Each entry carries its own expiry;
// Get treats expired entries as misses and a background sweep removes them so
// memory stays bounded even when reads are rare.
//
// # Invalidation
//
// Four invalidation modes are supported:
//
//	c.Invalidate("tenant-a:user-1")            // exact key
//	c.InvalidateByPrefix("tenant-a:")          // every key for a tenant
//	c.InvalidateWhere(func(k string, v V) bool { ... }) // predicate over values
//	c.Clear()                                  // everything
//
// Every invalidation advances a generation counter. Loaders that read the
// generation before loading and store with PutIfUnchanged never write a value
// that predates a concurrent invalidation.
package permcache
