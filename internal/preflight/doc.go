// Package preflight provides readiness checks for the filesystem paths and
// storage backend that listarr depends on.
//
// The CLI "config check" command runs RunAll and prints one line per result.
// Directory checks only apply to file-backed storage; the store check opens
// the configured backend and lists its partitions.
package preflight
