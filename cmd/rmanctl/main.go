package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/project-rman/rman/internal/cache"
	"github.com/project-rman/rman/internal/config"
	"github.com/project-rman/rman/internal/downloader"
	"github.com/project-rman/rman/internal/jrman"
	"github.com/project-rman/rman/internal/manifest"
	"github.com/project-rman/rman/internal/observability"
	"github.com/project-rman/rman/internal/orchestrator"
	"github.com/project-rman/rman/internal/ratelimit"
	"github.com/project-rman/rman/internal/rbyte"
	"github.com/project-rman/rman/internal/resume"
	"github.com/project-rman/rman/internal/splitter"
	"github.com/project-rman/rman/internal/verify"
)

const version = "1.0.0"

func usage() {
	fmt.Fprintf(os.Stderr, `usage: rmanctl <command> [flags]

commands:
  download   reconstruct a manifest's files from disk, cache and CDN
  build      chunk a directory tree into the cache and emit a JRMAN dump
  info       print a manifest summary
`)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	logger := observability.NewLogger("rmanctl", version, os.Stderr)

	var err error
	switch os.Args[1] {
	case "download":
		err = runDownload(os.Args[2:], logger)
	case "build":
		err = runBuild(os.Args[2:], logger)
	case "info":
		err = runInfo(os.Args[2:])
	default:
		usage()
	}
	if err != nil {
		logger.Fatal(err, "rmanctl "+os.Args[1]+" failed")
	}
}

func runDownload(args []string, logger *observability.Logger) error {
	fl := flag.NewFlagSet("download", flag.ExitOnError)
	configPath := fl.String("config", "", "YAML config file")
	manifestPath := fl.String("manifest", "", "path to the .manifest file")
	outDir := fl.String("out", ".", "destination directory")
	cdnURL := fl.String("cdn", "", "CDN base URL (overrides config)")
	cachePath := fl.String("cache", "", "bundle cache base path (overrides config)")
	fl.Parse(args)

	if *manifestPath == "" {
		return fmt.Errorf("download: -manifest is required")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if *cdnURL != "" {
		cfg.CDN.BaseURL = *cdnURL
	}
	if *cachePath != "" {
		cfg.Cache.Path = *cachePath
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if shutdown, err := observability.InitTracing(ctx, "rmanctl"); err == nil {
		defer shutdown(context.Background())
	}
	metrics := observability.NewMetrics()

	data, err := os.ReadFile(*manifestPath)
	if err != nil {
		return fmt.Errorf("download: read manifest: %w", err)
	}
	m, err := manifest.Decode(data)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Cache.Path), 0o755); err != nil {
		return fmt.Errorf("download: cache dir: %w", err)
	}
	c, err := cache.Open(cfg.Cache.Path, cfg.Cache.ReadOnly, cfg.Cache.FlushSize, cfg.Cache.MaxSize)
	if err != nil {
		return err
	}
	defer c.Close()

	store, err := resume.NewStore(cfg.Resume.StorePath)
	if err != nil {
		return err
	}
	defer store.Close()

	startObservServer(cfg, store, logger, metrics)

	var limiter *ratelimit.TokenBucket
	if cfg.CDN.RequestsPerSec > 0 {
		limiter = ratelimit.NewTokenBucket(cfg.CDN.RequestsPerSec, cfg.CDN.Workers)
	}
	dl := downloader.New(downloader.Options{
		BaseURL: cfg.CDN.BaseURL,
		Workers: cfg.CDN.Workers,
		Retry:   cfg.CDN.Retry,
		Limiter: limiter,
		Logger:  logger,
		Metrics: metrics,
	}, c)

	orch := orchestrator.New(orchestrator.Options{
		Downloader: dl,
		Logger:     logger,
		Metrics:    metrics,
	})
	session := orch.NewSession(*m, *outDir)

	var totalBytes int64
	for _, f := range m.Files {
		totalBytes += int64(f.Size)
	}
	logger.TransferStarted(session.ID.String(), m.ManifestID.String(), len(m.Files), totalBytes)

	now := time.Now()
	rec := resume.SessionRecord{
		ID:         session.ID.String(),
		ManifestID: m.ManifestID,
		DestDir:    *outDir,
		FilesTotal: len(m.Files),
		State:      resume.StateActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := store.SaveSession(rec); err != nil {
		logger.Error(err, "resume store unavailable, continuing without it")
	}

	start := time.Now()
	_, status, runErr := session.Run(ctx)

	// A write that already started always finishes before we exit.
	verify.Wait()

	rec.FilesComplete = status.FilesComplete
	rec.FilesPartial = status.FilesPartial
	rec.State = resume.StateCompleted
	if runErr != nil || status.FilesPartial > 0 {
		rec.State = resume.StateFailed
	}
	rec.UpdatedAt = time.Now()
	if err := store.SaveSession(rec); err != nil {
		logger.Error(err, "resume store update failed")
	}

	logger.TransferCompleted(session.ID.String(), status.FilesComplete, status.FilesPartial, status.ChunksFetched, time.Since(start))
	if runErr != nil {
		return runErr
	}
	if status.FilesPartial > 0 {
		return fmt.Errorf("download: %d of %d files left partial", status.FilesPartial, status.FilesTotal)
	}
	return nil
}

func startObservServer(cfg *config.Config, store *resume.Store, logger *observability.Logger, metrics *observability.Metrics) {
	if cfg.ObservAddress == "" {
		return
	}
	health := observability.NewHealthChecker(version)
	health.RegisterCheck("cache", observability.CacheCheck(cfg.Cache.Path))
	health.RegisterCheck("resume_store", observability.DatabaseCheck(store.Ping))
	health.RegisterCheck("resume_index", observability.ResumeIndexCheck(cfg.Resume.IndexPath))
	health.RegisterCheck("disk", observability.DiskSpaceCheck(filepath.Dir(cfg.Cache.Path), 1))

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", health.Handler())
	go func() {
		if err := http.ListenAndServe(cfg.ObservAddress, mux); err != nil {
			logger.Error(err, "observability server stopped")
		}
	}()
}

func runBuild(args []string, logger *observability.Logger) error {
	fl := flag.NewFlagSet("build", flag.ExitOnError)
	configPath := fl.String("config", "", "YAML config file")
	inDir := fl.String("in", "", "directory tree to chunk")
	outPath := fl.String("out", "", "JRMAN output path")
	cachePath := fl.String("cache", "", "bundle cache base path (overrides config)")
	compress := fl.Bool("zstd", false, "write a ZRMAN (zstd-framed) dump")
	fl.Parse(args)

	if *inDir == "" || *outPath == "" {
		return fmt.Errorf("build: -in and -out are required")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if *cachePath != "" {
		cfg.Cache.Path = *cachePath
	}
	level := zstd.EncoderLevelFromZstd(cfg.Chunking.ZstdLevel)

	if err := os.MkdirAll(filepath.Dir(cfg.Cache.Path), 0o755); err != nil {
		return fmt.Errorf("build: cache dir: %w", err)
	}
	c, err := cache.Open(cfg.Cache.Path, false, cfg.Cache.FlushSize, cfg.Cache.MaxSize)
	if err != nil {
		return err
	}
	defer c.Close()

	sp := splitter.New(cfg.Chunking.ChunkMin, cfg.Chunking.ChunkMax)
	var out jrman.Manifest

	walkErr := filepath.WalkDir(*inDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(*inDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		file, err := buildFile(c, sp, path, rel, level)
		if err != nil {
			return fmt.Errorf("build: %s: %w", rel, err)
		}
		out.Files = append(out.Files, file)
		logger.WithFile(rel, int64(file.Size)).Debug(fmt.Sprintf("chunked into %d chunks", len(file.Chunks)))
		return nil
	})
	if walkErr != nil {
		return walkErr
	}

	for _, se := range sp.Errors {
		logger.Warn("splitter fell back to CDC: " + se.Error())
	}

	f, err := os.Create(*outPath)
	if err != nil {
		return fmt.Errorf("build: create %s: %w", *outPath, err)
	}
	defer f.Close()
	if *compress {
		return jrman.EncodeZRMAN(f, out, level)
	}
	return jrman.Encode(f, out)
}

func buildFile(c *cache.Cache, sp *splitter.Splitter, path, rel string, level zstd.EncoderLevel) (jrman.File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return jrman.File{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return jrman.File{}, err
	}

	file := jrman.File{
		FileID: rbyte.FileID(xxhash.Sum64String(rel)),
		Size:   uint64(len(data)),
		Path:   rel,
	}
	if info.Mode()&0o111 != 0 {
		file.Permissions = 1
	}
	mtime := info.ModTime().Unix()
	file.Time = &mtime

	var splitErr error
	err = sp.Split(data, func(e splitter.Entry) {
		if splitErr != nil || e.Size == 0 {
			return
		}
		id, aerr := c.AddUncompressed(data[e.Offset:e.Offset+e.Size], level)
		if aerr != nil {
			splitErr = aerr
			return
		}
		file.Chunks = append(file.Chunks, jrman.Chunk{
			ChunkID:            id,
			HashType:           rbyte.HashRitoHKDF,
			UncompressedSize:   uint32(e.Size),
			UncompressedOffset: e.Offset,
		})
	})
	if err != nil {
		return jrman.File{}, err
	}
	if splitErr != nil {
		return jrman.File{}, splitErr
	}
	return file, nil
}

func runInfo(args []string) error {
	fl := flag.NewFlagSet("info", flag.ExitOnError)
	manifestPath := fl.String("manifest", "", "path to the .manifest file")
	asJRMAN := fl.Bool("jrman", false, "dump the manifest as a JRMAN stream on stdout")
	fl.Parse(args)

	if *manifestPath == "" {
		return fmt.Errorf("info: -manifest is required")
	}
	data, err := os.ReadFile(*manifestPath)
	if err != nil {
		return fmt.Errorf("info: read manifest: %w", err)
	}
	m, err := manifest.Decode(data)
	if err != nil {
		return err
	}

	if *asJRMAN {
		return jrman.Encode(os.Stdout, jrman.FromManifest(*m))
	}

	s := manifest.Summarize(m)
	fmt.Printf("manifest:  %s\n", s.ManifestID)
	fmt.Printf("files:     %d\n", s.FileCount)
	fmt.Printf("chunks:    %d\n", s.ChunkCount)
	fmt.Printf("bundles:   %d\n", s.BundleCount)
	fmt.Printf("total:     %d bytes\n", s.TotalSize)
	fmt.Printf("languages: %v\n", s.Languages)
	for id, n := range s.BundleChunks {
		fmt.Printf("  bundle %s: %d chunks\n", id, n)
	}
	return nil
}
