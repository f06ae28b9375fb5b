package downloader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/klauspost/compress/zstd"

	"github.com/project-rman/rman/internal/bundle"
	"github.com/project-rman/rman/internal/manifest"
	"github.com/project-rman/rman/internal/observability"
)

// dispatchRound carves chunks (already sorted) into coalesced slices and
// runs one Range-GET per slice across a bounded pool of size Workers,
// returning the chunks that weren't fully delivered.
func (d *Downloader) dispatchRound(ctx context.Context, chunks []manifest.ChunkDst, onData OnData, logger *observability.Logger) ([]manifest.ChunkDst, error) {
	var slices [][]manifest.ChunkDst
	for rest := chunks; len(rest) > 0; {
		s := nextSlice(rest)
		slices = append(slices, s)
		rest = rest[len(s):]
	}

	var (
		mu     sync.Mutex
		failed []manifest.ChunkDst
	)
	g, gctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, d.opts.Workers)

	for _, slice := range slices {
		slice := slice
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				mu.Lock()
				failed = append(failed, slice...)
				mu.Unlock()
				return nil
			}
			defer func() { <-sem }()

			if d.opts.Limiter != nil {
				if lerr := d.opts.Limiter.Wait(gctx, 1); lerr != nil {
					mu.Lock()
					failed = append(failed, slice...)
					mu.Unlock()
					return nil
				}
			}

			start := time.Now()
			delivered, err := d.fetchSlice(gctx, slice, onData)
			if d.opts.Metrics != nil {
				var body int64
				for _, c := range slice[:delivered] {
					body += int64(c.CompressedSize)
				}
				d.opts.Metrics.RecordCDNRequest(err == nil && delivered == len(slice), time.Since(start).Seconds(), body, len(slice))
			}
			if err != nil && logger != nil {
				logger.Error(err, "downloader: slice fetch failed")
			}
			if delivered < len(slice) {
				if d.opts.Metrics != nil {
					d.opts.Metrics.RecordChunkRetransmit("transport_error")
				}
				mu.Lock()
				failed = append(failed, slice[delivered:]...)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return failed, nil
}

// fetchSlice issues one Range-GET for a coalesced slice and streams the
// response: an append buffer accumulates body bytes, and every time a
// whole front chunk's compressed bytes are available it is zstd-decoded
// and fanned out to every destination sharing its chunkId. It returns how
// many leading entries of slice were fully delivered before either the
// response ended early or a hard decode error occurred.
func (d *Downloader) fetchSlice(ctx context.Context, slice []manifest.ChunkDst, onData OnData) (delivered int, err error) {
	front, back := slice[0], slice[len(slice)-1]
	url := fmt.Sprintf("%s/bundles/%s.bundle", trimSlash(d.opts.BaseURL), front.BundleID)
	rangeEnd := back.CompressedOffset + uint64(back.CompressedSize) - 1

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("downloader: build request: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", front.CompressedOffset, rangeEnd))

	resp, err := d.opts.HTTPClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("downloader: %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("downloader: %s: unexpected status %d", url, resp.StatusCode)
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return 0, fmt.Errorf("downloader: init zstd decoder: %w", err)
	}
	defer dec.Close()

	var buf bytes.Buffer
	pending := slice
	read := make([]byte, 64*1024)
	for len(pending) > 0 {
		n, rerr := resp.Body.Read(read)
		if n > 0 {
			buf.Write(read[:n])
			for len(pending) > 0 && buf.Len() >= int(pending[0].CompressedSize) {
				chunk := pending[0]
				raw := buf.Next(int(chunk.CompressedSize))
				plain, derr := dec.DecodeAll(raw, make([]byte, 0, chunk.UncompressedSize))
				if derr != nil {
					return delivered, fmt.Errorf("downloader: decompress chunk %s: %w", chunk.ChunkID, derr)
				}
				if d.cache != nil {
					raw := append([]byte(nil), raw...)
					desc := bundle.Chunk{ChunkID: chunk.ChunkID, CompressedSize: uint32(len(raw)), UncompressedSize: chunk.UncompressedSize}
					if cerr := d.cache.Add(desc, raw); cerr != nil {
						return delivered, fmt.Errorf("downloader: cache add %s: %w", chunk.ChunkID, cerr)
					}
				}
				for len(pending) > 0 && pending[0].ChunkID == chunk.ChunkID {
					if oerr := onData(pending[0], plain); oerr != nil {
						return delivered, fmt.Errorf("downloader: on_data chunk %s: %w", pending[0].ChunkID, oerr)
					}
					delivered++
					pending = pending[1:]
				}
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			return delivered, fmt.Errorf("downloader: %s: %w", url, rerr)
		}
	}
	return delivered, nil
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
