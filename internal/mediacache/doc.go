// Package mediacache keeps catalog list items (movies and shows) in durable,
// per-list partitions so repeated runs only see new items, and sweeps entries
// once their retention window has passed.
//
// A partition is named media_type + "_" + list_type ("movies_popular",
// "shows_trending") and maps an item key to the stored record. The key is
// read from record[singular media type]["ids"][scheme], where the scheme is
// tvdb for shows and tmdb for everything else. Every stored record carries a
// cache_expires timestamp written when the record was added.
//
// Writes are buffered by the underlying kvstore table and become durable only
// when the partition is committed. AddCachedItems and PruneExpiredCacheItems
// commit for the caller; RemoveCachedItem does not.
//
// The public operations never return errors. Failures are logged and turned
// into a safe result (false, an empty slice or zero) so a refresh batch keeps
// going.
package mediacache
