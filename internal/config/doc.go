// Package config loads, normalizes, and validates listarr configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// LISTARR_REDIS_PASSWORD. The Config type centralizes every knob the cache and
// CLI need, so the cache file location, retention window and storage backend
// are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
