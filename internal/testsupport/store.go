package testsupport

import (
	"log/slog"
	"testing"
	"time"

	"listarr/internal/kvstore"
	"listarr/internal/mediacache"
	"listarr/internal/metrics"
)

// Clock is a settable time source for mediacache.Options.Now.
type Clock struct {
	now time.Time
}

// NewClock returns a clock fixed at now.
func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time { return c.now }

// Set moves the clock to now.
func (c *Clock) Set(now time.Time) { c.now = now }

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// NewCache builds a mediacache.Cache over engine with the supplied clock,
// logger and recorder. Close is registered as cleanup.
func NewCache(t testing.TB, engine kvstore.Engine, days int, clock *Clock, logger *slog.Logger, rec *metrics.Recorder) *mediacache.Cache {
	t.Helper()

	opts := mediacache.Options{
		ExpiresInDays: days,
		Logger:        logger,
		Metrics:       rec,
	}
	if clock != nil {
		opts.Now = clock.Now
	}
	cache := mediacache.New(engine, opts)
	t.Cleanup(func() {
		_ = cache.Close()
	})
	return cache
}

// MovieRecord returns a list item shaped like a Trakt movie entry.
func MovieRecord(title string, tmdb any) mediacache.Record {
	return mediacache.Record{
		"watchers": float64(10),
		"movie": map[string]any{
			"title": title,
			"ids":   map[string]any{"tmdb": tmdb, "slug": title},
		},
	}
}

// ShowRecord returns a list item shaped like a Trakt show entry.
func ShowRecord(title string, tvdb any) mediacache.Record {
	ids := map[string]any{"slug": title}
	if tvdb != nil {
		ids["tvdb"] = tvdb
	}
	return mediacache.Record{
		"watchers": float64(5),
		"show": map[string]any{
			"title": title,
			"ids":   ids,
		},
	}
}
