// Package downloader implements the chunk downloader: it turns a sorted
// list of chunk destinations into a minimal set of Range-GET requests
// against a CDN, streams each response through zstd decompression, and
// fans the decoded bytes out to every destination sharing a chunk ID.
// A local cache is consulted first; only chunks it can't resolve ever hit
// the network.
package downloader

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/project-rman/rman/internal/cache"
	"github.com/project-rman/rman/internal/manifest"
	"github.com/project-rman/rman/internal/observability"
	"github.com/project-rman/rman/internal/ratelimit"
)

var tracer = otel.Tracer("rman/downloader")

// DefaultWorkers and MaxWorkers bound the Range-GET worker pool.
const (
	DefaultWorkers = 32
	MaxWorkers     = 64
	MaxRetry       = 8
)

// OnData is invoked once per resolved chunk destination, in ascending
// position order within its coalesced slice (duplicates fanned out before
// advancing), with the chunk's inflated bytes. The slice is only valid for
// the duration of the call.
type OnData func(dst manifest.ChunkDst, plain []byte) error

// Options configures a Downloader.
type Options struct {
	// BaseURL is the CDN root; chunks are fetched from
	// {BaseURL}/bundles/{bundleId:016X}.bundle. Empty disables network
	// fetches entirely — Get then only resolves what the cache already has.
	BaseURL string

	// Workers bounds concurrent HTTP requests. Zero or a negative value
	// means DefaultWorkers; values above MaxWorkers are capped to MaxWorkers.
	Workers int

	// Retry is the number of dispatch rounds run against the network.
	// Clamped to [0, MaxRetry]; zero means chunks the cache can't resolve
	// are returned unresolved without ever touching the network.
	Retry int

	// HTTPClient issues the CDN requests. Defaults to http.DefaultClient.
	HTTPClient *http.Client

	// Limiter, if set, is asked for one token before every outgoing
	// request, throttling the pool's aggregate request rate.
	Limiter *ratelimit.TokenBucket

	// Logger and Metrics are optional observability hooks.
	Logger  *observability.Logger
	Metrics *observability.Metrics
}

func (o Options) normalize() Options {
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.Workers > MaxWorkers {
		o.Workers = MaxWorkers
	}
	if o.Retry < 0 {
		o.Retry = 0
	}
	if o.Retry > MaxRetry {
		o.Retry = MaxRetry
	}
	if o.HTTPClient == nil {
		o.HTTPClient = http.DefaultClient
	}
	return o
}

// Downloader resolves chunk destinations against an optional local cache,
// then a CDN, via a bounded pool of Range-GET workers.
type Downloader struct {
	opts  Options
	cache *cache.Cache // nil disables cache lookups/writes
}

// New creates a Downloader. c may be nil, disabling the cache lookup and
// write-through path entirely.
func New(opts Options, c *cache.Cache) *Downloader {
	return &Downloader{opts: opts.normalize(), cache: c}
}

// Get resolves every chunk destination in chunks, invoking onData for each
// as its bytes become available, and returns the subset that could not be
// resolved from either the cache or the CDN after all retry rounds.
func (d *Downloader) Get(ctx context.Context, chunks []manifest.ChunkDst, onData OnData) ([]manifest.ChunkDst, error) {
	start := time.Now()
	sessionID := uuid.New()
	logger := d.opts.Logger
	if logger != nil {
		logger = logger.WithSession(sessionID.String())
		logger.Debug("downloader session started")
	}
	if d.opts.Metrics != nil {
		d.opts.Metrics.RecordTransferStart()
	}

	remaining := chunks
	var err error
	if d.cache != nil {
		_, cacheSpan := tracer.Start(ctx, "downloader.cache")
		asked := len(remaining)
		remaining, err = d.getFromCache(remaining, onData)
		cacheSpan.End()
		if err != nil {
			d.finishMetrics(start, false)
			return nil, err
		}
		if d.opts.Metrics != nil {
			for i := 0; i < asked-len(remaining); i++ {
				d.opts.Metrics.RecordCacheLookup(true)
			}
			for range remaining {
				d.opts.Metrics.RecordCacheLookup(false)
			}
		}
	}

	if len(remaining) > 0 && d.opts.BaseURL != "" {
		cdnCtx, cdnSpan := tracer.Start(ctx, "downloader.cdn")
		for round := 0; round < d.opts.Retry && len(remaining) > 0; round++ {
			sortChunks(remaining)
			remaining, err = d.dispatchRound(cdnCtx, remaining, onData, logger)
			if err != nil {
				cdnSpan.End()
				d.finishMetrics(start, false)
				return nil, err
			}
		}
		cdnSpan.End()
	}

	d.finishMetrics(start, len(remaining) == 0)
	if logger != nil {
		logger.Debug("downloader session finished")
	}
	return remaining, nil
}

func (d *Downloader) finishMetrics(start time.Time, success bool) {
	if d.opts.Metrics != nil {
		d.opts.Metrics.RecordTransferComplete(success, time.Since(start).Seconds())
	}
}
