// Package main hosts the listarr CLI entrypoint and command graph.
//
// The Cobra command tree exposes the media list cache: listing, importing,
// removing and pruning items per partition, plus configuration scaffolding.
// The command context resolves configuration once, builds the run logger,
// holds the run lock while a command mutates the cache, and writes the
// Prometheus textfile when one is configured.
package main
