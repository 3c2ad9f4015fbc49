// Package kvstore provides durable, named key/value tables with explicit
// commit semantics.
//
// An Engine owns one storage location (a SQLite file, a bbolt file or a Redis
// keyspace) and hands out Tables by name, creating them on first open. Values
// are JSON encoded. Writes made through a Table are buffered in memory and
// become durable only when Commit succeeds; reads through the same Table
// observe its pending writes. Rollback (or closing the engine) discards
// anything not yet committed.
//
// Tables are not safe for concurrent use. Callers that share an engine
// between goroutines must coordinate externally.
package kvstore
